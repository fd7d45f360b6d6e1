package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"omnigen-api/internal/infrastructure/eventbus"
	"omnigen-api/internal/interfaces/http/middleware"
	"omnigen-api/pkg/errors"
)

// StreamHandler 任务进度 SSE 推送处理器
type StreamHandler struct {
	bus *eventbus.Bus
}

// NewStreamHandler 创建进度推送处理器
func NewStreamHandler(bus *eventbus.Bus) *StreamHandler {
	return &StreamHandler{bus: bus}
}

// Stream 订阅当前用户的任务进度事件流
// GET /v1/events/stream
// 可选 job_id 参数过滤单个任务的事件
func (h *StreamHandler) Stream(c *gin.Context) {
	tenantID := middleware.GetTenantIDFromGin(c)
	userID := middleware.GetUserIDFromGin(c)
	if tenantID == "" || userID == "" {
		handleError(c, errors.ErrUnauthorized)
		return
	}
	jobFilter := c.Query("job_id")

	sub := h.bus.Subscribe(tenantID, userID)
	defer h.bus.Unsubscribe(tenantID, userID, sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			if jobFilter != "" && event.JobID != jobFilter {
				return true
			}
			c.SSEvent("progress", event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().Unix()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}
