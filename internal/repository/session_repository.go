package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/service"
)

const sessionColumns = `id, user_id, exam_id, start_time, last_heartbeat,
	progress_current, progress_total, violations_count, status,
	ip_address, user_agent, resolved_alert_ids`

// SessionRepository handles session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetByID retrieves a session by its id.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s := &model.Session{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id,
	).Scan(
		&s.ID, &s.UserID, &s.ExamID, &s.StartTime, &s.LastHeartbeat,
		&s.ProgressCurrent, &s.ProgressTotal, &s.ViolationsCount, &s.Status,
		&s.IPAddress, &s.UserAgent, &s.ResolvedAlertIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// FindLive retrieves the live session for a (user, exam) pair.
func (r *SessionRepository) FindLive(ctx context.Context, userID int, examID uuid.UUID) (*model.Session, error) {
	s := &model.Session{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND exam_id = $2 AND status IN ('ACTIVE', 'FLAGGED')
		 ORDER BY start_time DESC
		 LIMIT 1`, userID, examID,
	).Scan(
		&s.ID, &s.UserID, &s.ExamID, &s.StartTime, &s.LastHeartbeat,
		&s.ProgressCurrent, &s.ProgressTotal, &s.ViolationsCount, &s.Status,
		&s.IPAddress, &s.UserAgent, &s.ResolvedAlertIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, exam_id, start_time, last_heartbeat,
			progress_current, progress_total, violations_count, status,
			ip_address, user_agent, resolved_alert_ids, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		s.ID, s.UserID, s.ExamID, s.StartTime, s.LastHeartbeat,
		s.ProgressCurrent, s.ProgressTotal, s.ViolationsCount, s.Status,
		s.IPAddress, s.UserAgent, s.ResolvedAlertIDs,
	)
	return err
}

// Update persists the mutable fields of a session. StartTime and identity
// columns are set once at creation and never rewritten.
func (r *SessionRepository) Update(ctx context.Context, s *model.Session) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET last_heartbeat = $1, progress_current = $2, progress_total = $3,
		     violations_count = $4, status = $5, resolved_alert_ids = $6,
		     updated_at = now()
		 WHERE id = $7`,
		s.LastHeartbeat, s.ProgressCurrent, s.ProgressTotal,
		s.ViolationsCount, s.Status, s.ResolvedAlertIDs, s.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrSessionNotFound
	}
	return nil
}

// ListLiveByExam retrieves all live sessions for one exam.
func (r *SessionRepository) ListLiveByExam(ctx context.Context, examID uuid.UUID) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE exam_id = $1 AND status IN ('ACTIVE', 'FLAGGED')
		 ORDER BY start_time ASC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListLive retrieves all live sessions across all exams.
func (r *SessionRepository) ListLive(ctx context.Context) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status IN ('ACTIVE', 'FLAGGED')
		 ORDER BY start_time ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// DeleteTerminalBefore garbage-collects sessions that have been terminal
// since before the cutoff. Live sessions are never touched.
func (r *SessionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sessions
		 WHERE status NOT IN ('ACTIVE', 'FLAGGED') AND updated_at < $1`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSessions(rows pgx.Rows) ([]model.Session, error) {
	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.ExamID, &s.StartTime, &s.LastHeartbeat,
			&s.ProgressCurrent, &s.ProgressTotal, &s.ViolationsCount, &s.Status,
			&s.IPAddress, &s.UserAgent, &s.ResolvedAlertIDs,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
