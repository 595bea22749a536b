package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/service"
	ws "github.com/stemsi/examguard-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the student's WebSocket session stream: heartbeats,
// violation reports, and final submit over one connection.
type WSHandler struct {
	lifecycle *service.SessionLifecycle
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(lifecycle *service.SessionLifecycle, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		lifecycle: lifecycle,
		log:       log.With().Str("component", "ws_handler").Logger(),
		upgrader:  buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for real-time heartbeats and violation reporting.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	userID := claims.UserID

	// The stream only serves an existing live session; starting one is an
	// explicit REST action.
	session, _, err := h.lifecycle.State(c.Request.Context(), userID, examID, time.Now())
	if err != nil {
		ws.WriteError(conn, "no live session for this exam")
		return
	}

	wsLog := h.log.With().
		Int("user_id", userID).
		Str("exam_id", examID.String()).
		Str("session_id", session.ID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var envelope ws.RequestEnvelope
		raw, err := readRaw(conn, &envelope)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch envelope.Action {
		case ws.ActionHeartbeat:
			h.handleHeartbeat(conn, wsLog, session.ID, raw)
		case ws.ActionViolation:
			h.handleViolation(conn, wsLog, session.ID, raw)
		case ws.ActionSubmit:
			done := h.handleSubmit(conn, wsLog, session.ID, raw)
			if done {
				return
			}
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(envelope.Action))
		}
	}
}

func (h *WSHandler) handleHeartbeat(conn *websocket.Conn, wsLog zerolog.Logger, sessionID uuid.UUID, raw []byte) {
	var req ws.HeartbeatRequest
	if err := unmarshalRaw(raw, &req); err != nil {
		ws.WriteError(conn, "malformed heartbeat")
		return
	}

	if err := h.lifecycle.RecordHeartbeat(context.Background(), sessionID, req.ProgressCurrent, req.ProgressTotal, time.Now()); err != nil {
		wsLog.Error().Err(err).Msg("Heartbeat failed")
		ws.WriteError(conn, "heartbeat failed")
		return
	}

	ws.WriteTyped(conn, ws.HeartbeatResponse{Event: ws.EventSuccess, Status: "ok"})
}

func (h *WSHandler) handleViolation(conn *websocket.Conn, wsLog zerolog.Logger, sessionID uuid.UUID, raw []byte) {
	var req ws.ViolationRequest
	if err := unmarshalRaw(raw, &req); err != nil || req.Type == "" {
		ws.WriteError(conn, "malformed violation report")
		return
	}

	session, counted, err := h.lifecycle.RecordViolation(context.Background(), sessionID, model.ViolationEvent{
		Type:     req.Type,
		Severity: model.ViolationSeverity(req.Severity),
		Message:  req.Message,
	}, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrNoLiveSession) {
			ws.WriteError(conn, "no live session")
			return
		}
		wsLog.Error().Err(err).Msg("Record violation failed")
		ws.WriteError(conn, "violation report failed")
		return
	}

	resp := ws.ViolationResponse{
		Event:      ws.EventSuccess,
		Status:     "recorded",
		Counted:    counted,
		Violations: session.ViolationsCount,
		Flagged:    session.Status == model.SessionStatusFlagged,
	}
	if resp.Flagged {
		resp.Event = ws.EventFlagged
	}
	ws.WriteTyped(conn, resp)
}

// handleSubmit finalizes the attempt. Returns true when the session closed
// and the stream should end.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, sessionID uuid.UUID, raw []byte) bool {
	var req ws.SubmitRequest
	if err := unmarshalRaw(raw, &req); err != nil {
		ws.WriteError(conn, "malformed submit")
		return false
	}

	_, submission, err := h.lifecycle.Submit(context.Background(), sessionID, req.Answers, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionTerminal):
			ws.WriteError(conn, "session already closed")
			return true
		case errors.Is(err, service.ErrAlreadySubmitted):
			ws.WriteError(conn, "already submitted")
			return true
		default:
			wsLog.Error().Err(err).Msg("Submit failed")
			ws.WriteError(conn, "submit failed")
			return false
		}
	}

	wsLog.Info().
		Int("attempt", submission.AttemptNumber).
		Int("awarded", submission.TotalPointsAwarded).
		Msg("Exam submitted over stream")

	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:         ws.EventSubmitted,
		AttemptNumber: submission.AttemptNumber,
		PointsAwarded: submission.TotalPointsAwarded,
		PointsMax:     submission.TotalPointsPossible,
	})
	return true
}

// readRaw reads one message, peeks the action into envelope, and returns
// the raw bytes for action-specific decoding.
func readRaw(conn *websocket.Conn, envelope *ws.RequestEnvelope) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, envelope); err != nil {
		return nil, err
	}
	return raw, nil
}

func unmarshalRaw(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}
