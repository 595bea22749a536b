package model

import (
	"time"

	"github.com/google/uuid"
)

// Alert is a derived proctoring alert. Alerts are never stored: any session
// with violations or a FLAGGED status yields one, under a stable id so that
// resolving it once keeps it resolved across regenerations.
type Alert struct {
	ID              string        `json:"id"` // "alert-{sessionID}"
	SessionID       uuid.UUID     `json:"session_id"`
	UserID          int           `json:"user_id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	ViolationsCount int           `json:"violations_count"`
	Status          SessionStatus `json:"status"`
	LastActivity    time.Time     `json:"last_activity"`
}

// AlertID returns the stable derived alert id for a session.
func AlertID(sessionID uuid.UUID) string {
	return "alert-" + sessionID.String()
}
