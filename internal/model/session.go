package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusFlagged   SessionStatus = "FLAGGED"
	SessionStatusSubmitted SessionStatus = "SUBMITTED"
	SessionStatusAbandoned SessionStatus = "ABANDONED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
)

// IsLive reports whether the session is still an ongoing attempt.
// ACTIVE and FLAGGED are live; everything else is terminal and absorbing.
func (s SessionStatus) IsLive() bool {
	return s == SessionStatusActive || s == SessionStatusFlagged
}

// IsTerminal reports whether the session has ended.
func (s SessionStatus) IsTerminal() bool {
	return !s.IsLive()
}

// Session represents one live, concurrently observed exam attempt.
// At most one live session may exist per (user, exam) pair at any instant;
// the lifecycle service enforces that, not a storage uniqueness constraint.
type Session struct {
	ID              uuid.UUID     `json:"id"`
	UserID          int           `json:"user_id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	StartTime       time.Time     `json:"start_time"`
	LastHeartbeat   time.Time     `json:"last_heartbeat"`
	ProgressCurrent int           `json:"progress_current"`
	ProgressTotal   int           `json:"progress_total"`
	ViolationsCount int           `json:"violations_count"`
	Status          SessionStatus `json:"status"`
	IPAddress       string        `json:"ip_address,omitempty"`
	UserAgent       string        `json:"user_agent,omitempty"`
	// ResolvedAlertIDs keeps alert acknowledgement idempotent across polls:
	// derived alerts carry a stable id, and once it lands here the alert
	// stays resolved no matter how often it is re-derived.
	ResolvedAlertIDs []string `json:"resolved_alert_ids,omitempty"`
}

// HasResolvedAlert reports whether alertID has already been acknowledged.
func (s *Session) HasResolvedAlert(alertID string) bool {
	for _, id := range s.ResolvedAlertIDs {
		if id == alertID {
			return true
		}
	}
	return false
}

// TimeRemaining computes how long the attempt has left. The wall-clock
// start is authoritative, not the last heartbeat, so resumed connections
// show a consistent countdown. Never negative.
func TimeRemaining(start time.Time, durationMinutes int, now time.Time) time.Duration {
	remaining := time.Duration(durationMinutes)*time.Minute - now.Sub(start)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// StartSessionRequest is the payload for starting a fresh exam attempt.
type StartSessionRequest struct {
	ProgressTotal int `json:"progress_total" binding:"omitempty,min=0"`
}

// HeartbeatRequest is the payload for a progress heartbeat.
type HeartbeatRequest struct {
	ProgressCurrent int `json:"progress_current" binding:"min=0"`
	ProgressTotal   int `json:"progress_total" binding:"min=0"`
}

// SubmitRequest carries the student's answers on final submit.
type SubmitRequest struct {
	Answers map[string]string `json:"answers"`
}
