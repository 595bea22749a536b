package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

func monitorFixture(t *testing.T) (*Monitor, *lifecycleFixture) {
	t.Helper()
	fx := newLifecycleFixture(t)
	m := NewMonitor(fx.sessions, newFakeExamProvider(fx.exam), fx.lifecycle, zerolog.Nop())
	return m, fx
}

func TestExamSnapshotComputesRemainingTime(t *testing.T) {
	m, fx := monitorFixture(t)
	ctx := context.Background()
	now := time.Now()

	fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)
	fx.lifecycle.StartSession(ctx, 2, fx.exam.ID, "", "", now.Add(10*time.Minute))

	snapshots, err := m.ExamSnapshot(ctx, fx.exam.ID, now.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("want 2 snapshots, got %d", len(snapshots))
	}

	remaining := make(map[int]int)
	for _, snap := range snapshots {
		if snap.ExamTitle != fx.exam.Title {
			t.Fatalf("snapshot must carry the exam title, got %q", snap.ExamTitle)
		}
		remaining[snap.Session.UserID] = snap.TimeRemaining
	}
	if remaining[1] != int((40 * time.Minute).Seconds()) {
		t.Fatalf("user 1: want 40m remaining, got %ds", remaining[1])
	}
	if remaining[2] != int((50 * time.Minute).Seconds()) {
		t.Fatalf("user 2: want 50m remaining, got %ds", remaining[2])
	}
}

func TestExamSnapshotExpiresOverdueSessions(t *testing.T) {
	m, fx := monitorFixture(t)
	ctx := context.Background()
	now := time.Now()

	stale, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)
	fx.lifecycle.StartSession(ctx, 2, fx.exam.ID, "", "", now.Add(30*time.Minute))

	// 66 minutes in: user 1 is past deadline plus grace, user 2 is not.
	snapshots, err := m.ExamSnapshot(ctx, fx.exam.ID, now.Add(66*time.Minute))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].Session.UserID != 2 {
		t.Fatalf("overdue session must drop out of the snapshot, got %+v", snapshots)
	}

	current, _ := fx.sessions.GetByID(ctx, stale.ID)
	if current.Status != model.SessionStatusExpired {
		t.Fatalf("overdue session must be persisted as EXPIRED, got %s", current.Status)
	}
}

func TestGlobalSnapshotSpansExams(t *testing.T) {
	fx := newLifecycleFixture(t)
	other := model.Exam{
		ID:              uuid.New(),
		Title:           "Chemistry Quiz",
		DurationMinutes: 30,
		QuestionCount:   1,
		Questions:       []model.ExamQuestion{{ID: "q1", Answer: "C", Points: 1}},
	}
	exams := newFakeExamProvider(fx.exam, other)
	lifecycle := NewSessionLifecycle(
		fx.sessions, exams, fx.reconciler,
		NewDeduplicator(30*time.Second), &fakeViolationLog{}, fx.bc,
		3, 5*time.Minute, zerolog.Nop(),
	)
	m := NewMonitor(fx.sessions, exams, lifecycle, zerolog.Nop())

	ctx := context.Background()
	now := time.Now()
	lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)
	lifecycle.StartSession(ctx, 2, other.ID, "", "", now)

	snapshots, err := m.GlobalSnapshot(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("global snapshot: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("want 2 snapshots across exams, got %d", len(snapshots))
	}

	titles := make(map[string]bool)
	for _, snap := range snapshots {
		titles[snap.ExamTitle] = true
	}
	if !titles[fx.exam.Title] || !titles[other.Title] {
		t.Fatalf("each snapshot must be enriched with its own exam, got %v", titles)
	}
}

func TestAlertsDerivedFromViolationsAndStatus(t *testing.T) {
	m, fx := monitorFixture(t)
	ctx := context.Background()
	now := time.Now()

	// Clean session: no alert.
	fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)

	// One violation: alert.
	withViolation, _ := fx.lifecycle.StartSession(ctx, 2, fx.exam.ID, "", "", now)
	fx.lifecycle.RecordViolation(ctx, withViolation.ID, model.ViolationEvent{Type: "tab_switch", Message: "m"}, now.Add(time.Minute))

	alerts, err := m.Alerts(ctx, fx.exam.ID, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("want 1 alert, got %d", len(alerts))
	}
	if alerts[0].SessionID != withViolation.ID {
		t.Fatalf("alert must point at the violating session")
	}
	if alerts[0].ID != model.AlertID(withViolation.ID) {
		t.Fatalf("alert id must be derived from the session id, got %q", alerts[0].ID)
	}
}

func TestAlertsSkipResolved(t *testing.T) {
	m, fx := monitorFixture(t)
	ctx := context.Background()
	now := time.Now()

	session, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)
	fx.lifecycle.RecordViolation(ctx, session.ID, model.ViolationEvent{Type: "tab_switch", Message: "m"}, now.Add(time.Minute))

	alerts, _ := m.Alerts(ctx, fx.exam.ID, now.Add(2*time.Minute))
	if len(alerts) != 1 {
		t.Fatalf("precondition: want 1 alert, got %d", len(alerts))
	}

	if err := m.ResolveAlert(ctx, alerts[0].ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	alerts, _ = m.Alerts(ctx, fx.exam.ID, now.Add(3*time.Minute))
	if len(alerts) != 0 {
		t.Fatalf("resolved alert must not reappear, got %d", len(alerts))
	}

	// A fresh violation after resolution stays suppressed: the alert id is
	// stable per session and the resolution is an acknowledgement.
	fx.lifecycle.RecordViolation(ctx, session.ID, model.ViolationEvent{Type: "devtools", Message: "m"}, now.Add(4*time.Minute))
	alerts, _ = m.Alerts(ctx, fx.exam.ID, now.Add(5*time.Minute))
	if len(alerts) != 0 {
		t.Fatalf("acknowledged session must stay suppressed, got %d", len(alerts))
	}
}

func TestResolveAlertRejectsMalformedID(t *testing.T) {
	m, _ := monitorFixture(t)
	ctx := context.Background()

	if err := m.ResolveAlert(ctx, "nonsense"); err == nil {
		t.Fatalf("id without the alert prefix must be rejected")
	}
	if err := m.ResolveAlert(ctx, "alert-not-a-uuid"); err == nil {
		t.Fatalf("id with an invalid uuid must be rejected")
	}
}
