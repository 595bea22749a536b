package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/service"
)

const examCacheTTL = 5 * time.Minute

// ExamRepository resolves exam descriptors from Postgres with a short-TTL
// Redis cache in front. Descriptors are read on every submit, violation,
// and monitor poll; the cache keeps the answer key off the hot path.
type ExamRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewExamRepository creates a new ExamRepository. rdb may be nil to disable
// caching.
func NewExamRepository(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ExamRepository {
	return &ExamRepository{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "exam_repository").Logger(),
	}
}

// GetByID retrieves an exam descriptor, preferring the cache.
func (r *ExamRepository) GetByID(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	if exam := r.fromCache(ctx, examID); exam != nil {
		return exam, nil
	}

	exam := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, question_count, questions
		 FROM exams WHERE id = $1`, examID,
	).Scan(&exam.ID, &exam.Title, &exam.DurationMinutes, &exam.QuestionCount, &exam.Questions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrExamNotFound
		}
		return nil, err
	}

	r.toCache(ctx, exam)
	return exam, nil
}

func (r *ExamRepository) fromCache(ctx context.Context, examID uuid.UUID) *model.Exam {
	if r.rdb == nil {
		return nil
	}
	raw, err := r.rdb.Get(ctx, config.CacheKey.ExamKey(examID.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Debug().Err(err).Msg("Exam cache read failed")
		}
		return nil
	}
	exam := &model.Exam{}
	if err := json.Unmarshal(raw, exam); err != nil {
		return nil
	}
	return exam
}

func (r *ExamRepository) toCache(ctx context.Context, exam *model.Exam) {
	if r.rdb == nil {
		return
	}
	raw, err := json.Marshal(exam)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, config.CacheKey.ExamKey(exam.ID.String()), raw, examCacheTTL).Err(); err != nil {
		r.log.Debug().Err(err).Msg("Exam cache write failed")
	}
}
