package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// SessionStore abstracts durable session persistence. The pgx-backed
// implementation lives in internal/repository; tests use in-memory fakes.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	// FindLive returns the session with a live status for the pair, or
	// ErrSessionNotFound. The lifecycle service guarantees at most one exists.
	FindLive(ctx context.Context, userID int, examID uuid.UUID) (*model.Session, error)
	Create(ctx context.Context, s *model.Session) error
	Update(ctx context.Context, s *model.Session) error
	ListLiveByExam(ctx context.Context, examID uuid.UUID) ([]model.Session, error)
	ListLive(ctx context.Context) ([]model.Session, error)
	// DeleteTerminalBefore garbage-collects sessions that have been terminal
	// since before the cutoff. Live sessions are never deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubmissionStore abstracts durable submission persistence.
type SubmissionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	// ListByUserExam returns all submissions for the pair, most recent first.
	ListByUserExam(ctx context.Context, userID int, examID uuid.UUID) ([]model.Submission, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Submission, error)
	Create(ctx context.Context, s *model.Submission) error
	Update(ctx context.Context, s *model.Submission) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ExamProvider resolves exam descriptors (duration, question count, answer
// key). Exam content management is an external collaborator.
type ExamProvider interface {
	GetByID(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
}

// ViolationLog records accepted violations for audit, best-effort: a failed
// write must never fail the violation's primary state transition.
type ViolationLog interface {
	Record(ctx context.Context, userID int, examID uuid.UUID, v model.ViolationEvent) error
}
