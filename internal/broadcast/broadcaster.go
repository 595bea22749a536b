package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// EventType classifies session state changes pushed to observers.
type EventType string

const (
	EventSessionStarted       EventType = "session_started"
	EventHeartbeat            EventType = "heartbeat"
	EventViolation            EventType = "violation"
	EventSessionFlagged       EventType = "session_flagged"
	EventSessionSubmitted     EventType = "session_submitted"
	EventSessionAbandoned     EventType = "session_abandoned"
	EventSessionExpired       EventType = "session_expired"
	EventSessionInvalidated   EventType = "session_invalidated"
	EventRetakeGranted        EventType = "retake_granted"
	EventRetakeRevoked        EventType = "retake_revoked"
	EventPenaltyImposed       EventType = "penalty_imposed"
	EventSubmissionFlagged    EventType = "submission_flagged"
	EventAlertResolved        EventType = "alert_resolved"
)

// SessionEvent is the flattened snapshot pushed on every state change.
// Always a snapshot, never a diff, so observers need no prior state.
// TimeRemaining is recomputed at publish time from StartTime so stale
// countdowns never reach a dashboard.
type SessionEvent struct {
	Type                 EventType `json:"type"`
	SessionID            string    `json:"session_id"`
	UserID               int       `json:"user_id"`
	UserName             string    `json:"user_name,omitempty"`
	ExamID               string    `json:"exam_id"`
	ExamTitle            string    `json:"exam_title,omitempty"`
	ExamDurationMinutes  int       `json:"exam_duration"`
	StartTime            time.Time `json:"start_time"`
	TimeRemainingMinutes int       `json:"time_remaining"`
	ViolationCount       int       `json:"violation_count"`
	Status               string    `json:"status"`
	CurrentQuestion      int       `json:"current_question"`
	TotalQuestions       int       `json:"total_questions"`
	LastActivity         time.Time `json:"last_activity"`
	Reason               string    `json:"reason,omitempty"`
	Actor                string    `json:"actor,omitempty"`
}

// Broadcaster fans session events out to every observer subscribed to the
// event's exam or to the global monitoring view. Publishing is
// fire-and-forget and must never block or fail a state mutation.
type Broadcaster interface {
	Publish(ctx context.Context, evt SessionEvent)
	Close() error
}

// ExamResolver resolves exam descriptors for async payload enrichment.
// It matches the service layer's exam provider.
type ExamResolver interface {
	GetByID(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
}

// FromSession builds the snapshot payload for a session using
// caller-supplied exam data. Enrichment (title lookup) happens async in the
// broadcaster if the caller didn't have it on hand.
func FromSession(t EventType, s *model.Session, exam *model.Exam) SessionEvent {
	evt := SessionEvent{
		Type:            t,
		SessionID:       s.ID.String(),
		UserID:          s.UserID,
		ExamID:          s.ExamID.String(),
		StartTime:       s.StartTime,
		ViolationCount:  s.ViolationsCount,
		Status:          string(s.Status),
		CurrentQuestion: s.ProgressCurrent,
		TotalQuestions:  s.ProgressTotal,
		LastActivity:    s.LastHeartbeat,
	}
	if exam != nil {
		evt.ExamTitle = exam.Title
		evt.ExamDurationMinutes = exam.DurationMinutes
	}
	return evt
}
