package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler serves proctoring dashboards: live session snapshots,
// derived alerts, and the SSE streams fed by Redis PubSub.
type MonitorHandler struct {
	rdb     *redis.Client
	monitor *service.Monitor
	log     zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, monitor *service.Monitor, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:     rdb,
		monitor: monitor,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// ExamSessions godoc
// GET /api/v1/admin/exams/:exam_id/sessions
func (h *MonitorHandler) ExamSessions(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snapshots, err := h.monitor.ExamSnapshot(c.Request.Context(), examID, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Exam snapshot failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, snapshots)
}

// AllSessions godoc
// GET /api/v1/admin/sessions
func (h *MonitorHandler) AllSessions(c *gin.Context) {
	snapshots, err := h.monitor.GlobalSnapshot(c.Request.Context(), time.Now())
	if err != nil {
		h.log.Error().Err(err).Msg("Global snapshot failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, snapshots)
}

// Alerts godoc
// GET /api/v1/admin/exams/:exam_id/alerts
func (h *MonitorHandler) Alerts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	alerts, err := h.monitor.Alerts(c.Request.Context(), examID, time.Now())
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Alert derivation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, alerts)
}

// ResolveAlert godoc
// POST /api/v1/admin/alerts/:alert_id/resolve
func (h *MonitorHandler) ResolveAlert(c *gin.Context) {
	alertID := c.Param("alert_id")

	if err := h.monitor.ResolveAlert(c.Request.Context(), alertID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Warn().Err(err).Str("alert_id", alertID).Msg("Alert resolve failed")
		response.Fail(c, http.StatusBadRequest, response.ErrAlertMalformed)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "resolved"})
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
// Streams the exam's live events over SSE, with periodic full-snapshot
// refreshes so a dashboard that missed events converges anyway.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	h.streamSSE(c, config.CacheKey.ExamChannel(examID.String()), &examID)
}

// MonitorAllSSE godoc
// GET /api/v1/admin/monitor
// Streams every exam's events from the global monitoring channel.
func (h *MonitorHandler) MonitorAllSSE(c *gin.Context) {
	h.streamSSE(c, config.CacheKey.MonitoringChannel(), nil)
}

func (h *MonitorHandler) streamSSE(c *gin.Context, channelName string, examID *uuid.UUID) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	h.sendSnapshot(c, reqCtx, examID)

	pubsub := h.rdb.Subscribe(reqCtx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("channel", channelName).Msg("Observer attached to live monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("channel", channelName).Msg("Observer disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, examID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes a full-state SSE event. Scoped timeout prevents a
// slow query from stalling the stream.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, examID *uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	var (
		snapshots []service.SessionSnapshot
		err       error
	)
	if examID != nil {
		snapshots, err = h.monitor.ExamSnapshot(ctx, *examID, time.Now())
	} else {
		snapshots, err = h.monitor.GlobalSnapshot(ctx, time.Now())
	}
	if err != nil {
		h.log.Warn().Err(err).Msg("Snapshot fetch for SSE failed")
		return
	}

	c.SSEvent("message", map[string]interface{}{
		"type":     "snapshot",
		"sessions": snapshots,
	})
	c.Writer.Flush()
}
