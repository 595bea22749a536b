package handler

import (
	"errors"
	"net/http"
	"strconv"
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

// InterventionHandler exposes admin integrity actions: flag, invalidate,
// retake management, penalties, and score corrections.
type InterventionHandler struct {
	intervention *service.Intervention
	log          zerolog.Logger
}

// NewInterventionHandler creates a new InterventionHandler.
func NewInterventionHandler(intervention *service.Intervention, log zerolog.Logger) *InterventionHandler {
	return &InterventionHandler{
		intervention: intervention,
		log:          log.With().Str("component", "intervention_handler").Logger(),
	}
}

// actor returns the acting admin's identity for audit fields.
func actor(c *gin.Context) string {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return "unknown"
	}
	return "admin:" + strconv.Itoa(claims.UserID)
}

// FlagSession godoc
// POST /api/v1/admin/sessions/:session_id/flag
func (h *InterventionHandler) FlagSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.FlagSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.intervention.FlagSession(c.Request.Context(), sessionID, req.Reason, actor(c), time.Now())
	if err != nil {
		h.failSessionAction(c, sessionID, "Flag session", err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// InvalidateSession godoc
// POST /api/v1/admin/sessions/:session_id/invalidate
func (h *InterventionHandler) InvalidateSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.FlagSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, submission, err := h.intervention.InvalidateSession(c.Request.Context(), sessionID, req.Reason, actor(c), time.Now())
	if err != nil {
		h.failSessionAction(c, sessionID, "Invalidate session", err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":    session,
		"submission": submission,
	})
}

// RequireRetake godoc
// POST /api/v1/admin/sessions/:session_id/retake
func (h *InterventionHandler) RequireRetake(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GrantRetakeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.intervention.RequireRetake(c.Request.Context(), sessionID, req.MaxAttempts, actor(c), time.Now())
	if err != nil {
		if errors.Is(err, service.ErrMaxAttemptsTooLow) {
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrMaxAttemptsLow)
			return
		}
		h.failSessionAction(c, sessionID, "Require retake", err)
		return
	}

	response.Success(c, http.StatusOK, submission)
}

// GrantRetake godoc
// POST /api/v1/admin/exams/:exam_id/users/:user_id/retake
// Pair-addressed grant, covering students with no session on record yet.
func (h *InterventionHandler) GrantRetake(c *gin.Context) {
	examID, userID, ok := h.pairParams(c)
	if !ok {
		return
	}

	var req model.GrantRetakeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.intervention.GrantRetake(c.Request.Context(), userID, examID, req.MaxAttempts, actor(c), time.Now())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMaxAttemptsTooLow):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrMaxAttemptsLow)
		case errors.Is(err, service.ErrExamNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		default:
			h.log.Error().Err(err).Int("user_id", userID).Msg("Grant retake failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, submission)
}

// RevokeRetake godoc
// DELETE /api/v1/admin/exams/:exam_id/users/:user_id/retake/:submission_id
func (h *InterventionHandler) RevokeRetake(c *gin.Context) {
	examID, userID, ok := h.pairParams(c)
	if !ok {
		return
	}
	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	submission, err := h.intervention.RevokeRetake(c.Request.Context(), submissionID, userID, examID, actor(c), time.Now())
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("submission_id", submissionID.String()).Msg("Revoke retake failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, submission)
}

// ImposePenalty godoc
// POST /api/v1/admin/sessions/:session_id/penalty
func (h *InterventionHandler) ImposePenalty(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.PenaltyRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.intervention.ImposePenalty(c.Request.Context(), sessionID, req.PenaltyPct, actor(c), time.Now())
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.failSessionAction(c, sessionID, "Impose penalty", err)
		return
	}

	response.Success(c, http.StatusOK, submission)
}

// ForceInvalidateSubmission godoc
// POST /api/v1/admin/submissions/:submission_id/invalidate
func (h *InterventionHandler) ForceInvalidateSubmission(c *gin.Context) {
	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.FlagSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.intervention.ForceInvalidateSubmission(c.Request.Context(), submissionID, req.Reason, actor(c), time.Now())
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("submission_id", submissionID.String()).Msg("Force invalidate failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, submission)
}

// History godoc
// GET /api/v1/admin/exams/:exam_id/users/:user_id/submissions
// Placeholder rows never appear here.
func (h *InterventionHandler) History(c *gin.Context) {
	examID, userID, ok := h.pairParams(c)
	if !ok {
		return
	}

	history, err := h.intervention.History(c.Request.Context(), userID, examID)
	if err != nil {
		h.log.Error().Err(err).Int("user_id", userID).Msg("History fetch failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, history)
}

func (h *InterventionHandler) pairParams(c *gin.Context) (uuid.UUID, int, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	return examID, userID, true
}

func (h *InterventionHandler) failSessionAction(c *gin.Context, sessionID uuid.UUID, action string, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrSessionTerminal):
		response.Fail(c, http.StatusConflict, response.ErrSessionTerminal)
	default:
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg(action + " failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
