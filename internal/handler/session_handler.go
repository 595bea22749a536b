package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
	"github.com/stemsi/examguard-backend/internal/validator"
)

// SessionHandler exposes the student-facing session lifecycle over REST.
// The same operations are reachable over the WebSocket stream; clients on
// unreliable networks tend to fall back to plain HTTP.
type SessionHandler struct {
	lifecycle *service.SessionLifecycle
	log       zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(lifecycle *service.SessionLifecycle, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		lifecycle: lifecycle,
		log:       log.With().Str("component", "session_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/student/exams/:exam_id/sessions
// Begins a fresh attempt; any prior live session for the pair is abandoned.
func (h *SessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, err := h.lifecycle.StartSession(
		c.Request.Context(), claims.UserID, examID,
		c.ClientIP(), c.Request.UserAgent(), time.Now(),
	)
	if err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Int("user_id", claims.UserID).Msg("Start session failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// Heartbeat godoc
// POST /api/v1/student/sessions/:session_id/heartbeat
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.HeartbeatRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.lifecycle.RecordHeartbeat(c.Request.Context(), sessionID, req.ProgressCurrent, req.ProgressTotal, time.Now()); err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Heartbeat failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// ReportViolation godoc
// POST /api/v1/student/sessions/:session_id/violations
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, counted, err := h.lifecycle.RecordViolation(c.Request.Context(), sessionID, model.ViolationEvent{
		Type:     req.Type,
		Severity: req.Severity,
		Message:  req.Message,
	}, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrNoLiveSession) {
			response.Fail(c, http.StatusNotFound, response.ErrNoLiveSession)
			return
		}
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Record violation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"counted":    counted,
		"violations": session.ViolationsCount,
		"status":     session.Status,
	})
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, submission, err := h.lifecycle.Submit(c.Request.Context(), sessionID, req.Answers, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNoLiveSession)
		case errors.Is(err, service.ErrSessionTerminal):
			response.Fail(c, http.StatusConflict, response.ErrSessionTerminal)
		case errors.Is(err, service.ErrAlreadySubmitted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmit)
		default:
			h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Submit failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":    session,
		"submission": submission,
	})
}

// State godoc
// GET /api/v1/student/exams/:exam_id/session
// Returns the live session for the caller with the authoritative countdown.
func (h *SessionHandler) State(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, remaining, err := h.lifecycle.State(c.Request.Context(), claims.UserID, examID, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNoLiveSession)
			return
		}
		h.log.Error().Err(err).Int("user_id", claims.UserID).Msg("Session state failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":        session,
		"time_remaining": int(remaining.Seconds()),
	})
}
