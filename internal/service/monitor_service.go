package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

// SessionSnapshot is the read model served to proctoring dashboards: the
// session joined with exam identity and the countdown computed at read time.
type SessionSnapshot struct {
	Session       model.Session `json:"session"`
	ExamTitle     string        `json:"exam_title"`
	ExamDuration  int           `json:"exam_duration"`
	TimeRemaining int           `json:"time_remaining"` // seconds
}

// Monitor builds dashboard read models: live session snapshots and derived
// alerts. It holds no state of its own; alerts are derived from sessions on
// every call, filtered by each session's resolved set.
type Monitor struct {
	sessions  SessionStore
	exams     ExamProvider
	lifecycle *SessionLifecycle
	log       zerolog.Logger
}

func NewMonitor(sessions SessionStore, exams ExamProvider, lifecycle *SessionLifecycle, log zerolog.Logger) *Monitor {
	return &Monitor{
		sessions:  sessions,
		exams:     exams,
		lifecycle: lifecycle,
		log:       log.With().Str("component", "monitor").Logger(),
	}
}

// ExamSnapshot returns live sessions for one exam with lazy expiry applied:
// a session past its deadline plus grace flips to EXPIRED during the read
// and drops out of the result.
func (m *Monitor) ExamSnapshot(ctx context.Context, examID uuid.UUID, now time.Time) ([]SessionSnapshot, error) {
	exam, err := m.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}

	sessions, err := m.sessions.ListLiveByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}

	snapshots := make([]SessionSnapshot, 0, len(sessions))
	for i := range sessions {
		session := &sessions[i]
		expired, err := m.lifecycle.ExpireIfPastDeadline(ctx, session, exam.DurationMinutes, now)
		if err != nil {
			m.log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Lazy expiry failed")
			continue
		}
		if expired {
			continue
		}
		snapshots = append(snapshots, SessionSnapshot{
			Session:       *session,
			ExamTitle:     exam.Title,
			ExamDuration:  exam.DurationMinutes,
			TimeRemaining: int(model.TimeRemaining(session.StartTime, exam.DurationMinutes, now).Seconds()),
		})
	}
	return snapshots, nil
}

// GlobalSnapshot returns every live session across all exams. Exam
// descriptors are fetched concurrently, one lookup per distinct exam.
func (m *Monitor) GlobalSnapshot(ctx context.Context, now time.Time) ([]SessionSnapshot, error) {
	sessions, err := m.sessions.ListLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}

	examIDs := make(map[uuid.UUID]struct{})
	for i := range sessions {
		examIDs[sessions[i].ExamID] = struct{}{}
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		exams = make(map[uuid.UUID]*model.Exam, len(examIDs))
	)
	for examID := range examIDs {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			exam, err := m.exams.GetByID(ctx, id)
			if err != nil {
				m.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Exam lookup failed")
				return
			}
			mu.Lock()
			exams[id] = exam
			mu.Unlock()
		}(examID)
	}
	wg.Wait()

	snapshots := make([]SessionSnapshot, 0, len(sessions))
	for i := range sessions {
		session := &sessions[i]
		exam, ok := exams[session.ExamID]
		if !ok {
			continue
		}
		expired, err := m.lifecycle.ExpireIfPastDeadline(ctx, session, exam.DurationMinutes, now)
		if err != nil || expired {
			continue
		}
		snapshots = append(snapshots, SessionSnapshot{
			Session:       *session,
			ExamTitle:     exam.Title,
			ExamDuration:  exam.DurationMinutes,
			TimeRemaining: int(model.TimeRemaining(session.StartTime, exam.DurationMinutes, now).Seconds()),
		})
	}
	return snapshots, nil
}

// Alerts derives the open alerts for one exam. Any live session with at
// least one violation or a FLAGGED status yields an alert under its stable
// id; sessions that already acknowledged that id are skipped.
func (m *Monitor) Alerts(ctx context.Context, examID uuid.UUID, now time.Time) ([]model.Alert, error) {
	sessions, err := m.sessions.ListLiveByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}

	alerts := make([]model.Alert, 0)
	for i := range sessions {
		session := &sessions[i]
		if session.ViolationsCount == 0 && session.Status != model.SessionStatusFlagged {
			continue
		}
		alertID := model.AlertID(session.ID)
		if session.HasResolvedAlert(alertID) {
			continue
		}
		alerts = append(alerts, model.Alert{
			ID:              alertID,
			SessionID:       session.ID,
			UserID:          session.UserID,
			ExamID:          session.ExamID,
			ViolationsCount: session.ViolationsCount,
			Status:          session.Status,
			LastActivity:    session.LastHeartbeat,
		})
	}
	return alerts, nil
}

// ResolveAlert acknowledges a derived alert by its stable id.
func (m *Monitor) ResolveAlert(ctx context.Context, alertID string) error {
	raw, ok := strings.CutPrefix(alertID, "alert-")
	if !ok {
		return fmt.Errorf("malformed alert id %q", alertID)
	}
	sessionID, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed alert id %q: %w", alertID, err)
	}
	return m.lifecycle.ResolveAlert(ctx, sessionID, alertID)
}
