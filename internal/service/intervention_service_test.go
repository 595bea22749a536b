package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/broadcast"
	"github.com/stemsi/examguard-backend/internal/model"
)

func interventionFixture(t *testing.T) (*Intervention, *lifecycleFixture) {
	t.Helper()
	fx := newLifecycleFixture(t)
	i := NewIntervention(
		fx.sessions, fx.submissions, newFakeExamProvider(fx.exam),
		fx.lifecycle, fx.reconciler, fx.bc, zerolog.Nop(),
	)
	return i, fx
}

func TestInvalidateSessionAbandonsAndFlagsSubmission(t *testing.T) {
	i, fx := interventionFixture(t)
	ctx := context.Background()
	now := time.Now()

	session, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)

	updated, submission, err := i.InvalidateSession(ctx, session.ID, "screen sharing detected", "admin:7", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if updated.Status != model.SessionStatusAbandoned {
		t.Fatalf("want ABANDONED, got %s", updated.Status)
	}
	if !submission.Flagged || submission.FlagReason != "screen sharing detected" {
		t.Fatalf("invalidation must create a flagged submission with the reason")
	}
	if submission.FlaggedBy != "admin:7" {
		t.Fatalf("actor must be recorded, got %q", submission.FlaggedBy)
	}

	// The session's derived alert is auto-resolved.
	current, _ := fx.sessions.GetByID(ctx, session.ID)
	if !current.HasResolvedAlert(model.AlertID(session.ID)) {
		t.Fatalf("invalidation must auto-resolve the session's alert")
	}
}

func TestFlagSessionMarksExistingSubmissions(t *testing.T) {
	i, fx := interventionFixture(t)
	ctx := context.Background()
	now := time.Now()

	// A prior submitted attempt exists alongside a new live session.
	prior, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)
	fx.lifecycle.Submit(ctx, prior.ID, map[string]string{"q1": "A"}, now.Add(time.Minute))

	max := 2
	if _, err := i.GrantRetake(ctx, 1, fx.exam.ID, &max, "admin:7", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	session, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now.Add(3*time.Minute))

	updated, err := i.FlagSession(ctx, session.ID, "suspicious pattern", "admin:7", now.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	if updated.Status != model.SessionStatusFlagged {
		t.Fatalf("want FLAGGED, got %s", updated.Status)
	}

	subs, _ := fx.submissions.ListByUserExam(ctx, 1, fx.exam.ID)
	if len(subs) == 0 {
		t.Fatalf("expected existing submissions")
	}
	for _, s := range subs {
		if s.IsPlaceholder {
			continue
		}
		if !s.Flagged || s.FlagReason != "suspicious pattern" {
			t.Fatalf("existing submission must carry the flag reason: %+v", s)
		}
	}
}

func TestFlagSessionCreatesNoSubmission(t *testing.T) {
	i, fx := interventionFixture(t)
	ctx := context.Background()
	now := time.Now()

	session, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)

	before, _ := fx.submissions.ListByUserExam(ctx, 1, fx.exam.ID)
	if _, err := i.FlagSession(ctx, session.ID, "reason", "admin:7", now.Add(time.Minute)); err != nil {
		t.Fatalf("flag: %v", err)
	}
	after, _ := fx.submissions.ListByUserExam(ctx, 1, fx.exam.ID)

	if len(after) != len(before) {
		t.Fatalf("flagging must not create a submission; only invalidation does")
	}
}

func TestImposePenaltyScalesLatestSubmission(t *testing.T) {
	i, fx := interventionFixture(t)
	ctx := context.Background()
	now := time.Now()

	session, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)
	_, submission, err := fx.lifecycle.Submit(ctx, session.ID, map[string]string{"q1": "A", "q2": "B"}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submission.TotalPointsAwarded != 5 {
		t.Fatalf("precondition: want 5 points, got %d", submission.TotalPointsAwarded)
	}

	penalized, err := i.ImposePenalty(ctx, session.ID, 50, "admin:7", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("penalty: %v", err)
	}
	// 5 * 0.5 = 2.5, rounded to 3.
	if penalized.TotalPointsAwarded != 3 {
		t.Fatalf("want 3 after 50%% penalty, got %d", penalized.TotalPointsAwarded)
	}
	if penalized.Flagged {
		t.Fatalf("a penalty is a grading decision; it must not flag the submission")
	}

	// A 100% penalty floors at zero.
	floored, err := i.ImposePenalty(ctx, session.ID, 100, "admin:7", now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("second penalty: %v", err)
	}
	if floored.TotalPointsAwarded != 0 {
		t.Fatalf("want 0 after 100%% penalty, got %d", floored.TotalPointsAwarded)
	}
}

func TestForceInvalidateSubmissionRewritesInPlace(t *testing.T) {
	i, fx := interventionFixture(t)
	ctx := context.Background()
	now := time.Now()

	session, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)
	_, submission, _ := fx.lifecycle.Submit(ctx, session.ID, map[string]string{"q1": "A", "q2": "B"}, now.Add(time.Minute))

	before, _ := fx.submissions.ListByUserExam(ctx, 1, fx.exam.ID)

	rewritten, err := i.ForceInvalidateSubmission(ctx, submission.ID, "plagiarized answers", "admin:7", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("force invalidate: %v", err)
	}

	if rewritten.ID != submission.ID {
		t.Fatalf("force invalidation corrects the record in place, never duplicates")
	}
	if !rewritten.Flagged || rewritten.TotalPointsAwarded != 0 {
		t.Fatalf("rewritten submission must be flagged and zero-scored")
	}
	for _, res := range rewritten.Results {
		if res.Outcome != model.OutcomeDisqualified {
			t.Fatalf("every result must be disqualified, got %s", res.Outcome)
		}
	}

	after, _ := fx.submissions.ListByUserExam(ctx, 1, fx.exam.ID)
	if len(after) != len(before) {
		t.Fatalf("row count must not change")
	}
}

func TestInterventionBroadcastsAdminEvents(t *testing.T) {
	i, fx := interventionFixture(t)
	ctx := context.Background()
	now := time.Now()

	session, _ := fx.lifecycle.StartSession(ctx, 1, fx.exam.ID, "", "", now)
	i.InvalidateSession(ctx, session.ID, "breach", "admin:7", now.Add(time.Minute))

	seen := make(map[broadcast.EventType]bool)
	for _, evt := range fx.bc.Events() {
		seen[evt.Type] = true
	}
	if !seen[broadcast.EventSessionInvalidated] {
		t.Fatalf("invalidation must broadcast a session_invalidated event")
	}
	if !seen[broadcast.EventSubmissionFlagged] {
		t.Fatalf("invalidation must broadcast the flagged submission")
	}
}
