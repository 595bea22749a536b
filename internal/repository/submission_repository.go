package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/service"
)

const submissionColumns = `id, user_id, exam_id, attempt_number, results,
	total_points_awarded, total_points_possible, submitted_at, max_attempts,
	is_retake_allowed, retake_granted_by, retake_granted_at, retake_revoked_at,
	is_placeholder, flagged, flag_reason, flagged_at, flagged_by`

// SubmissionRepository handles submission data access. Per-question results
// are stored as a JSONB column; pgx marshals them through the struct's JSON
// tags.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// GetByID retrieves a submission by its id.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id,
	).Scan(
		&s.ID, &s.UserID, &s.ExamID, &s.AttemptNumber, &s.Results,
		&s.TotalPointsAwarded, &s.TotalPointsPossible, &s.SubmittedAt, &s.MaxAttempts,
		&s.IsRetakeAllowed, &s.RetakeGrantedBy, &s.RetakeGrantedAt, &s.RetakeRevokedAt,
		&s.IsPlaceholder, &s.Flagged, &s.FlagReason, &s.FlaggedAt, &s.FlaggedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrSubmissionNotFound
		}
		return nil, err
	}
	return s, nil
}

// ListByUserExam retrieves all submissions for a (user, exam) pair, most
// recent first.
func (r *SubmissionRepository) ListByUserExam(ctx context.Context, userID int, examID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE user_id = $1 AND exam_id = $2
		 ORDER BY submitted_at DESC`, userID, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// ListByExam retrieves all submissions for an exam.
func (r *SubmissionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE exam_id = $1
		 ORDER BY submitted_at DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// Create inserts a new submission.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.UserID, s.ExamID, s.AttemptNumber, s.Results,
		s.TotalPointsAwarded, s.TotalPointsPossible, s.SubmittedAt, s.MaxAttempts,
		s.IsRetakeAllowed, s.RetakeGrantedBy, s.RetakeGrantedAt, s.RetakeRevokedAt,
		s.IsPlaceholder, s.Flagged, s.FlagReason, s.FlaggedAt, s.FlaggedBy,
	)
	return err
}

// Update persists the mutable fields of a submission: retake state, flag
// state, and score adjustments.
func (r *SubmissionRepository) Update(ctx context.Context, s *model.Submission) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET results = $1, total_points_awarded = $2, max_attempts = $3,
		     is_retake_allowed = $4, retake_granted_by = $5, retake_granted_at = $6,
		     retake_revoked_at = $7, flagged = $8, flag_reason = $9,
		     flagged_at = $10, flagged_by = $11
		 WHERE id = $12`,
		s.Results, s.TotalPointsAwarded, s.MaxAttempts,
		s.IsRetakeAllowed, s.RetakeGrantedBy, s.RetakeGrantedAt,
		s.RetakeRevokedAt, s.Flagged, s.FlagReason,
		s.FlaggedAt, s.FlaggedBy, s.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrSubmissionNotFound
	}
	return nil
}

// Delete removes a submission. Only the reconciler's duplicate sweep calls
// this.
func (r *SubmissionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	return err
}

func scanSubmissions(rows pgx.Rows) ([]model.Submission, error) {
	var submissions []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.ExamID, &s.AttemptNumber, &s.Results,
			&s.TotalPointsAwarded, &s.TotalPointsPossible, &s.SubmittedAt, &s.MaxAttempts,
			&s.IsRetakeAllowed, &s.RetakeGrantedBy, &s.RetakeGrantedAt, &s.RetakeRevokedAt,
			&s.IsPlaceholder, &s.Flagged, &s.FlagReason, &s.FlaggedAt, &s.FlaggedBy,
		); err != nil {
			return nil, err
		}
		submissions = append(submissions, s)
	}
	return submissions, rows.Err()
}
