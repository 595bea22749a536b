package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/service"
)

// CleanupWorker periodically expires live sessions past their deadline and
// garbage-collects sessions that have been terminal longer than the
// retention window. Expiry also happens lazily on read paths; the worker
// catches sessions nobody is looking at.
type CleanupWorker struct {
	sessions  service.SessionStore
	exams     service.ExamProvider
	lifecycle *service.SessionLifecycle
	interval  time.Duration
	retention time.Duration
	log       zerolog.Logger
}

func NewCleanupWorker(
	sessions service.SessionStore,
	exams service.ExamProvider,
	lifecycle *service.SessionLifecycle,
	interval time.Duration,
	retention time.Duration,
	log zerolog.Logger,
) *CleanupWorker {
	return &CleanupWorker{
		sessions:  sessions,
		exams:     exams,
		lifecycle: lifecycle,
		interval:  interval,
		retention: retention,
		log:       log.With().Str("component", "cleanup_worker").Logger(),
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Dur("retention", w.retention).
		Msg("CleanupWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("CleanupWorker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	now := time.Now()

	sessions, err := w.sessions.ListLive(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("List live sessions failed")
		return
	}

	// One exam lookup per distinct exam in the batch.
	durations := make(map[uuid.UUID]int)
	expired := 0
	for i := range sessions {
		session := &sessions[i]
		duration, ok := durations[session.ExamID]
		if !ok {
			exam, err := w.exams.GetByID(ctx, session.ExamID)
			if err != nil {
				w.log.Warn().Err(err).Str("exam_id", session.ExamID.String()).Msg("Exam lookup failed")
				continue
			}
			duration = exam.DurationMinutes
			durations[session.ExamID] = duration
		}

		didExpire, err := w.lifecycle.ExpireIfPastDeadline(ctx, session, duration, now)
		if err != nil {
			w.log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Expiry failed")
			continue
		}
		if didExpire {
			expired++
		}
	}

	deleted, err := w.sessions.DeleteTerminalBefore(ctx, now.Add(-w.retention))
	if err != nil {
		w.log.Error().Err(err).Msg("Terminal session GC failed")
		return
	}

	if expired > 0 || deleted > 0 {
		w.log.Info().
			Int("expired", expired).
			Int64("deleted", deleted).
			Msg("Cleanup sweep completed")
	}
}
