package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine for the dispatcher gateway.
func NewRouter(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	h := NewHandler(deps)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Log))

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", h.SubmitJob)
			jobs.GET("/pending", h.PendingJobs)
			jobs.GET("/:job_id", h.JobStatus)
			jobs.POST("/:job_id/complete", h.CompleteJob)
			jobs.POST("/:job_id/fail", h.FailJob)
		}

		nodes := v1.Group("/nodes")
		{
			nodes.POST("", h.RegisterNode)
			nodes.POST("/:node_id/heartbeat", h.Heartbeat)
			nodes.POST("/:node_id/claim", h.ClaimJob)
			nodes.GET("/:node_id", h.NodeStatus)
		}

		v1.GET("/stats", h.Stats)
		v1.GET("/events", h.StreamEvents)
	}

	return r
}
