package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
)

const publishTimeout = 2 * time.Second

// RedisBroadcaster publishes session events over Redis PubSub, one channel
// per exam plus the global monitoring channel. It is constructor-injected
// with its lifecycle tied to process startup/shutdown; there is no lazily
// initialized global.
type RedisBroadcaster struct {
	rdb      *redis.Client
	resolver ExamResolver
	log      zerolog.Logger
}

// NewRedisBroadcaster creates a RedisBroadcaster. resolver may be nil, in
// which case events go out with whatever exam data the caller supplied.
func NewRedisBroadcaster(rdb *redis.Client, resolver ExamResolver, log zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		rdb:      rdb,
		resolver: resolver,
		log:      log.With().Str("component", "broadcaster").Logger(),
	}
}

// Publish pushes the event to the exam channel and the monitoring channel.
// The first publish goes out immediately with caller-supplied data; if the
// exam title is missing it is resolved asynchronously and an enriched copy
// follows. Failures are logged and swallowed; live push is best-effort,
// the durable state change has already committed.
func (b *RedisBroadcaster) Publish(ctx context.Context, evt SessionEvent) {
	b.publishNow(evt)

	if evt.ExamTitle != "" || b.resolver == nil {
		return
	}

	go func() {
		enrichCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		examID, err := uuid.Parse(evt.ExamID)
		if err != nil {
			return
		}
		exam, err := b.resolver.GetByID(enrichCtx, examID)
		if err != nil {
			b.log.Debug().Err(err).Str("exam_id", evt.ExamID).Msg("Enrichment lookup failed")
			return
		}
		evt.ExamTitle = exam.Title
		evt.ExamDurationMinutes = exam.DurationMinutes
		b.publishNow(evt)
	}()
}

func (b *RedisBroadcaster) publishNow(evt SessionEvent) {
	// Recompute the countdown at the instant of publish.
	if evt.ExamDurationMinutes > 0 {
		evt.TimeRemainingMinutes = int(model.TimeRemaining(evt.StartTime, evt.ExamDurationMinutes, time.Now()).Minutes())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		b.log.Error().Err(err).Msg("Marshal event failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.ExamChannel(evt.ExamID), payload)
	pipe.Publish(ctx, config.CacheKey.MonitoringChannel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Warn().Err(err).Str("type", string(evt.Type)).Msg("Broadcast publish failed")
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBroadcaster) Close() error { return nil }
