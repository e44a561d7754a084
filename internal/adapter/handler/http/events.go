package http

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/port"
)

const sseKeepAlive = 25 * time.Second

// StreamEvents handles GET /api/v1/events as a server-sent event stream.
// With ?job=<id> it follows a single job channel, with ?node=<id> a single
// node channel, and with neither it follows the global event feed.
func (h *Handler) StreamEvents(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		sub port.Subscription
		err error
	)
	switch {
	case c.Query("job") != "":
		sub, err = h.deps.Bus.SubscribeJob(ctx, c.Query("job"))
	case c.Query("node") != "":
		sub, err = h.deps.Bus.SubscribeNode(ctx, c.Query("node"))
	default:
		sub, err = h.deps.Bus.SubscribeEvents(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event feed unavailable"})
		return
	}
	defer sub.Close()

	h.log.Debug("Event stream opened",
		zap.String("job", c.Query("job")),
		zap.String("node", c.Query("node")))

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, json.RawMessage(ev.Payload))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UnixMilli()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}
