package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

type violationPayload struct {
	UserID     int    `json:"user_id"`
	ExamID     string `json:"exam_id"`
	SessionID  string `json:"session_id"`
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	ReportedAt int64  `json:"reported_at"`
}

// RedisViolationLog is the producer half of the violation audit trail: it
// pushes accepted violations onto a Redis queue so the write never sits on
// the request path. The ViolationWorker drains the queue into Postgres.
type RedisViolationLog struct {
	rdb *redis.Client
}

func NewRedisViolationLog(rdb *redis.Client) *RedisViolationLog {
	return &RedisViolationLog{rdb: rdb}
}

// Record enqueues one accepted violation for durable persistence.
func (l *RedisViolationLog) Record(ctx context.Context, userID int, examID uuid.UUID, v model.ViolationEvent) error {
	payload := violationPayload{
		UserID:     userID,
		ExamID:     examID.String(),
		SessionID:  v.SessionID.String(),
		Type:       v.Type,
		Severity:   string(v.Severity),
		Message:    v.Message,
		ReportedAt: v.ReportedAt.Unix(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return l.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err()
}

// ViolationWorker drains the violation queue into the violation_events
// table in batches, with a row-by-row fallback and requeue on failure.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]*violationPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0] // Clear buffer, keep capacity
				lastFlushTime = time.Now()
			}
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
			// Continue
		}

		// 3. Fetch from Redis. BLPop blocks for 1 second and returns
		// immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()

		if err != nil {
			if err == redis.Nil {
				continue // Timeout (Queue empty), loop back to check flush timer
			}
			if ctx.Err() != nil {
				return // Context cancelled
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		// 4. Process Data
		if len(result) < 2 {
			continue
		}

		var payload violationPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON can never succeed on retry. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*violationPayload) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*violationPayload) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, p := range batch {
		examID, sessionID, err := p.parseIDs()
		if err != nil {
			// Trigger fallback, which handles the bad UUID individually.
			return err
		}
		rows = append(rows, []interface{}{
			sessionID, p.UserID, examID, p.Type, p.Severity, p.Message, time.Unix(p.ReportedAt, 0),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"violation_events"},
		[]string{"session_id", "user_id", "exam_id", "type", "severity", "message", "reported_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []*violationPayload) {
	requeueList := make([]*violationPayload, 0)

	for _, p := range batch {
		examID, sessionID, err := p.parseIDs()
		if err != nil {
			w.log.Error().Str("exam_id", p.ExamID).Str("session_id", p.SessionID).Msg("Dropping violation with invalid UUID")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO violation_events (session_id, user_id, exam_id, type, severity, message, reported_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sessionID, p.UserID, examID, p.Type, p.Severity, p.Message, time.Unix(p.ReportedAt, 0),
		)

		if err != nil {
			w.log.Error().Err(err).Int("user_id", p.UserID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, p)
		}
	}

	// If the DB was down, push everything that failed back to Redis.
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []*violationPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		// Avoid thrashing while the DB is down hard.
		time.Sleep(2 * time.Second)
	}
}

func (w *ViolationWorker) shutdown(buffer []*violationPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

func (p *violationPayload) parseIDs() (uuid.UUID, uuid.UUID, error) {
	examID, err := uuid.Parse(p.ExamID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	sessionID, err := uuid.Parse(p.SessionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return examID, sessionID, nil
}
