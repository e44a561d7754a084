// Package http exposes the dispatch boundary over HTTP: job submission and
// lifecycle, node registration and heartbeats, stats, and the SSE event feed
// consumed by the presentation layer.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
	"github.com/meshcompute/dispatch/internal/core/service"
)

// Dependencies wires the handlers to the core services.
type Dependencies struct {
	Dispatch    *service.DispatchService
	Registry    *service.RegistryService
	Coordinator *service.CoordinatorService
	Bus         port.NotificationBus
	Log         *zap.Logger
}

type Handler struct {
	deps *Dependencies
	log  *zap.Logger
}

func NewHandler(deps *Dependencies) *Handler {
	return &Handler{
		deps: deps,
		log:  deps.Log.Named("http"),
	}
}

type submitJobRequest struct {
	Submitter     string          `json:"submitter" binding:"required"`
	InputRef      string          `json:"input_ref" binding:"required"`
	AccessControl json.RawMessage `json:"access_control"`
	FeeAmount     string          `json:"fee_amount" binding:"required"`
}

// SubmitJob handles POST /api/v1/jobs
func (h *Handler) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.deps.Dispatch.Submit(c.Request.Context(), req.Submitter, req.InputRef, req.AccessControl, req.FeeAmount)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
	})
}

// JobStatus handles GET /api/v1/jobs/:job_id
func (h *Handler) JobStatus(c *gin.Context) {
	job, err := h.deps.Dispatch.StatusOf(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// PendingJobs handles GET /api/v1/jobs/pending?limit=N
func (h *Handler) PendingJobs(c *gin.Context) {
	var query struct {
		Limit int64 `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	jobs, err := h.deps.Dispatch.Pending(c.Request.Context(), query.Limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

type completeJobRequest struct {
	NodeID    string `json:"node_id" binding:"required"`
	OutputRef string `json:"output_ref" binding:"required"`
}

// CompleteJob handles POST /api/v1/jobs/:job_id/complete
func (h *Handler) CompleteJob(c *gin.Context) {
	var req completeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.deps.Dispatch.Complete(c.Request.Context(), c.Param("job_id"), req.NodeID, req.OutputRef)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if job == nil {
		// Degraded mode: accepted, will not advance until the store returns.
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       job.Status,
		"completed_at": job.CompletedAt,
	})
}

type failJobRequest struct {
	NodeID string `json:"node_id" binding:"required"`
	Reason string `json:"reason"`
}

// FailJob handles POST /api/v1/jobs/:job_id/fail
func (h *Handler) FailJob(c *gin.Context) {
	var req failJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.deps.Dispatch.Fail(c.Request.Context(), c.Param("job_id"), req.NodeID, req.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": job.Status})
}

type registerNodeRequest struct {
	WalletAddress string   `json:"wallet_address" binding:"required"`
	PublicKey     string   `json:"public_key" binding:"required"`
	Capabilities  []string `json:"capabilities"`
	Capacity      int      `json:"capacity"`
}

// RegisterNode handles POST /api/v1/nodes
func (h *Handler) RegisterNode(c *gin.Context) {
	var req registerNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	node, address, err := h.deps.Registry.Register(c.Request.Context(), service.RegisterRequest{
		WalletAddress: req.WalletAddress,
		PublicKey:     req.PublicKey,
		Capabilities:  req.Capabilities,
		Capacity:      req.Capacity,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"node_id":      node.ID,
		"node_address": address,
	})
}

type heartbeatRequest struct {
	Capacity   int `json:"capacity"`
	ActiveJobs int `json:"active_jobs"`
}

// Heartbeat handles POST /api/v1/nodes/:node_id/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ack, err := h.deps.Registry.Heartbeat(c.Request.Context(), c.Param("node_id"), req.Capacity, req.ActiveJobs)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// NodeStatus handles GET /api/v1/nodes/:node_id
func (h *Handler) NodeStatus(c *gin.Context) {
	node, err := h.deps.Registry.Status(c.Request.Context(), c.Param("node_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// ClaimJob handles POST /api/v1/nodes/:node_id/claim
func (h *Handler) ClaimJob(c *gin.Context) {
	job, err := h.deps.Dispatch.Claim(c.Request.Context(), c.Param("node_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusOK, gin.H{"job": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// Stats handles GET /api/v1/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.deps.Coordinator.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, domain.QueueStats{Timestamp: domain.NowMillis()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if !h.deps.Coordinator.Healthy(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidFee):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state store unavailable"})
	default:
		h.log.Error("Unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
