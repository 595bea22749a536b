package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
)

type stubResolver struct {
	exam model.Exam
}

func (r *stubResolver) GetByID(_ context.Context, examID uuid.UUID) (*model.Exam, error) {
	if examID != r.exam.ID {
		return nil, redis.Nil
	}
	copied := r.exam
	return &copied, nil
}

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func subscribe(t *testing.T, rdb *redis.Client, channel string) <-chan *redis.Message {
	t.Helper()
	ctx := context.Background()
	sub := rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe %s: %v", channel, err)
	}
	t.Cleanup(func() { sub.Close() })
	return sub.Channel()
}

func receiveEvent(t *testing.T, ch <-chan *redis.Message) SessionEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt SessionEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a broadcast message")
		return SessionEvent{}
	}
}

func TestRedisBroadcasterFansOutToBothChannels(t *testing.T) {
	rdb := newTestClient(t)
	b := NewRedisBroadcaster(rdb, nil, zerolog.Nop())

	session := &model.Session{
		ID:              uuid.New(),
		UserID:          1,
		ExamID:          uuid.New(),
		Status:          model.SessionStatusActive,
		StartTime:       time.Now().Add(-10 * time.Minute),
		LastHeartbeat:   time.Now(),
		ViolationsCount: 2,
	}
	exam := &model.Exam{ID: session.ExamID, Title: "Algebra Midterm", DurationMinutes: 60}

	examCh := subscribe(t, rdb, config.CacheKey.ExamChannel(session.ExamID.String()))
	monitorCh := subscribe(t, rdb, config.CacheKey.MonitoringChannel())

	b.Publish(context.Background(), FromSession(EventViolation, session, exam))

	fromExam := receiveEvent(t, examCh)
	fromMonitor := receiveEvent(t, monitorCh)

	for _, evt := range []SessionEvent{fromExam, fromMonitor} {
		if evt.Type != EventViolation {
			t.Fatalf("want %s, got %s", EventViolation, evt.Type)
		}
		if evt.SessionID != session.ID.String() || evt.ViolationCount != 2 {
			t.Fatalf("payload must be the full session snapshot: %+v", evt)
		}
		if evt.ExamTitle != "Algebra Midterm" {
			t.Fatalf("caller-supplied exam data must pass through, got %q", evt.ExamTitle)
		}
		// Started 10 minutes ago out of 60: the countdown is recomputed at
		// publish time, not copied from the caller.
		if evt.TimeRemainingMinutes < 49 || evt.TimeRemainingMinutes > 50 {
			t.Fatalf("want ~50 minutes remaining, got %d", evt.TimeRemainingMinutes)
		}
	}
}

func TestRedisBroadcasterEnrichesMissingTitle(t *testing.T) {
	rdb := newTestClient(t)

	exam := model.Exam{ID: uuid.New(), Title: "Physics Final", DurationMinutes: 90}
	b := NewRedisBroadcaster(rdb, &stubResolver{exam: exam}, zerolog.Nop())

	session := &model.Session{
		ID:        uuid.New(),
		UserID:    1,
		ExamID:    exam.ID,
		Status:    model.SessionStatusActive,
		StartTime: time.Now(),
	}

	examCh := subscribe(t, rdb, config.CacheKey.ExamChannel(exam.ID.String()))

	// No exam supplied: the first copy goes out bare, an enriched copy follows.
	b.Publish(context.Background(), FromSession(EventSessionStarted, session, nil))

	first := receiveEvent(t, examCh)
	if first.ExamTitle != "" {
		t.Fatalf("first copy should carry only caller data, got title %q", first.ExamTitle)
	}

	second := receiveEvent(t, examCh)
	if second.ExamTitle != "Physics Final" {
		t.Fatalf("enriched copy must carry the resolved title, got %q", second.ExamTitle)
	}
	if second.ExamDurationMinutes != 90 {
		t.Fatalf("enriched copy must carry the exam duration, got %d", second.ExamDurationMinutes)
	}
}

func TestMemoryBroadcasterRecordsInOrder(t *testing.T) {
	b := NewMemoryBroadcaster()
	ctx := context.Background()

	b.Publish(ctx, SessionEvent{Type: EventSessionStarted})
	b.Publish(ctx, SessionEvent{Type: EventHeartbeat})
	b.Publish(ctx, SessionEvent{Type: EventSessionSubmitted})

	events := b.Events()
	if len(events) != 3 {
		t.Fatalf("want 3 events, got %d", len(events))
	}
	if events[0].Type != EventSessionStarted || events[2].Type != EventSessionSubmitted {
		t.Fatalf("events must be recorded in publish order: %+v", events)
	}
}
