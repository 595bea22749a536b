package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultOutcome enumerates per-question grading outcomes.
type ResultOutcome string

const (
	OutcomeCorrect      ResultOutcome = "CORRECT"
	OutcomeWrong        ResultOutcome = "WRONG"
	OutcomeEmpty        ResultOutcome = "EMPTY"
	OutcomeDisqualified ResultOutcome = "DISQUALIFIED"
)

// QuestionResult is the graded outcome of a single question.
type QuestionResult struct {
	QuestionID     string        `json:"question_id"`
	Answer         string        `json:"answer,omitempty"`
	Outcome        ResultOutcome `json:"outcome"`
	PointsAwarded  int           `json:"points_awarded"`
	PointsPossible int           `json:"points_possible"`
	// OverridePoints is an optional lecturer override; when set it replaces
	// PointsAwarded in total computations.
	OverridePoints *int `json:"override_points,omitempty"`
}

// Submission is one durable attempt outcome. It is immutable by default:
// a new breach produces a new row rather than editing an old one. Only the
// retake fields, the flag fields, and lecturer overrides are mutable.
//
// Flagged, IsPlaceholder, and IsRetakeAllowed are deliberately independent
// booleans, not a single enum: a submission can be flagged AND
// retake-eligible at the same time (an invalidated student permitted to
// retry keeps the invalidation visible in history).
type Submission struct {
	ID                  uuid.UUID        `json:"id"`
	UserID              int              `json:"user_id"`
	ExamID              uuid.UUID        `json:"exam_id"`
	AttemptNumber       int              `json:"attempt_number"`
	Results             []QuestionResult `json:"results"`
	TotalPointsAwarded  int              `json:"total_points_awarded"`
	TotalPointsPossible int              `json:"total_points_possible"`
	SubmittedAt         time.Time        `json:"submitted_at"`
	MaxAttempts         int              `json:"max_attempts"`
	IsRetakeAllowed     bool             `json:"is_retake_allowed"`
	RetakeGrantedBy     string           `json:"retake_granted_by,omitempty"`
	RetakeGrantedAt     *time.Time       `json:"retake_granted_at,omitempty"`
	RetakeRevokedAt     *time.Time       `json:"retake_revoked_at,omitempty"`
	// IsPlaceholder marks synthetic retake-tracking rows. Placeholders carry
	// a grant before any real attempt exists and never surface in history.
	IsPlaceholder bool       `json:"is_placeholder"`
	Flagged       bool       `json:"flagged"`
	FlagReason    string     `json:"flag_reason,omitempty"`
	FlaggedAt     *time.Time `json:"flagged_at,omitempty"`
	FlaggedBy     string     `json:"flagged_by,omitempty"`
}

// IsZeroScore reports whether the stored total is zero. It reads the
// persisted total rather than recomputing from results so penalties and
// overrides already applied to the total are honored.
func (s *Submission) IsZeroScore() bool {
	return s.TotalPointsAwarded == 0
}

// EffectiveTotal returns the awarded total with lecturer overrides applied.
func (s *Submission) EffectiveTotal() int {
	total := 0
	for _, r := range s.Results {
		if r.OverridePoints != nil {
			total += *r.OverridePoints
		} else {
			total += r.PointsAwarded
		}
	}
	return total
}

// GrantRetakeRequest is the payload for granting a retake.
type GrantRetakeRequest struct {
	MaxAttempts *int `json:"max_attempts" binding:"omitempty,min=1"`
}

// FlagSessionRequest is the payload for flagging or invalidating a session.
type FlagSessionRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// PenaltyRequest is the payload for imposing a score penalty.
type PenaltyRequest struct {
	PenaltyPct int `json:"penalty_pct" binding:"required,min=1,max=100"`
}
