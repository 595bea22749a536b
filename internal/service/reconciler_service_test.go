package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

func reconcilerFixture(t *testing.T) (*SubmissionReconciler, *fakeSubmissionStore, model.Exam) {
	t.Helper()
	exam := model.Exam{
		ID:              uuid.New(),
		Title:           "Physics Final",
		DurationMinutes: 90,
		QuestionCount:   2,
		Questions: []model.ExamQuestion{
			{ID: "q1", Answer: "A", Points: 2},
			{ID: "q2", Answer: "B", Points: 3},
		},
	}
	store := newFakeSubmissionStore()
	return NewSubmissionReconciler(store, nil, zerolog.Nop()), store, exam
}

func sessionFor(userID int, examID uuid.UUID) *model.Session {
	return &model.Session{
		ID:     uuid.New(),
		UserID: userID,
		ExamID: examID,
		Status: model.SessionStatusActive,
	}
}

func TestFinalizeNormalSubmissionFirstAttempt(t *testing.T) {
	r, _, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	sub, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, map[string]string{"q1": "A"}, now)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if sub.AttemptNumber != 1 {
		t.Fatalf("want attempt 1, got %d", sub.AttemptNumber)
	}
	if sub.Flagged || sub.IsPlaceholder || sub.IsRetakeAllowed {
		t.Fatalf("a normal first submission carries no special flags")
	}
	if sub.TotalPointsAwarded != 2 || sub.TotalPointsPossible != 5 {
		t.Fatalf("want 2/5, got %d/%d", sub.TotalPointsAwarded, sub.TotalPointsPossible)
	}
}

func TestFinalizeRejectedWithoutRetakeGrant(t *testing.T) {
	r, _, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, map[string]string{"q1": "A"}, now); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	_, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, map[string]string{"q1": "A"}, now.Add(time.Minute))
	if err != ErrAlreadySubmitted {
		t.Fatalf("want ErrAlreadySubmitted, got %v", err)
	}
}

func TestInvalidationCreatesNewFlaggedRowEachTime(t *testing.T) {
	r, store, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, map[string]string{"q1": "A"}, now); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Invalidate the same pair three times.
	for i := 0; i < 3; i++ {
		sub, err := r.CreateInvalidatedSubmission(ctx, 1, exam.ID, &exam, "cheating", "admin:9", now.Add(time.Duration(i+1)*time.Minute))
		if err != nil {
			t.Fatalf("invalidation %d: %v", i+1, err)
		}
		if !sub.Flagged {
			t.Fatalf("invalidated submission must be flagged")
		}
		if sub.AttemptNumber != i+2 {
			t.Fatalf("invalidation %d: want attempt %d, got %d", i+1, i+2, sub.AttemptNumber)
		}
		for _, res := range sub.Results {
			if res.Outcome != model.OutcomeDisqualified || res.PointsAwarded != 0 {
				t.Fatalf("every result must be disqualified with zero award")
			}
		}
	}

	all, _ := store.ListByUserExam(ctx, 1, exam.ID)
	flagged := 0
	for _, s := range all {
		if s.Flagged {
			flagged++
		}
	}
	if flagged != 3 {
		t.Fatalf("three invalidations must leave three flagged rows, got %d", flagged)
	}
}

func TestSweepRemovesStaleZeroScoreDuplicates(t *testing.T) {
	r, store, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	// An honest zero-score attempt.
	if _, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, nil, now); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// Honest zero scores survive while no breach exists.
	all, _ := store.ListByUserExam(ctx, 1, exam.ID)
	if len(all) != 1 {
		t.Fatalf("honest zero-score attempt must survive, got %d rows", len(all))
	}

	// After an invalidation the zero-score non-flagged row is garbage.
	if _, err := r.CreateInvalidatedSubmission(ctx, 1, exam.ID, &exam, "breach", "admin:9", now.Add(time.Minute)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	all, _ = store.ListByUserExam(ctx, 1, exam.ID)
	for _, s := range all {
		if !s.Flagged && s.IsZeroScore() && !s.IsRetakeAllowed {
			t.Fatalf("stale zero-score duplicate survived the sweep: %+v", s)
		}
	}
}

func TestGrantRetakePreservesFlag(t *testing.T) {
	r, _, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	invalidated, err := r.CreateInvalidatedSubmission(ctx, 1, exam.ID, &exam, "breach", "admin:9", now)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	max := 3
	granted, err := r.GrantRetake(ctx, 1, exam.ID, &exam, &max, "admin:9", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	if granted.ID != invalidated.ID {
		t.Fatalf("grant must land on the most recent submission")
	}
	if !granted.Flagged {
		t.Fatalf("granting a retake must not clear the flag")
	}
	if !granted.IsRetakeAllowed || granted.MaxAttempts != 3 {
		t.Fatalf("grant not recorded: allowed=%v max=%d", granted.IsRetakeAllowed, granted.MaxAttempts)
	}
}

func TestGrantRetakeValidatesMaxAttempts(t *testing.T) {
	r, _, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, nil, now); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := r.CreateInvalidatedSubmission(ctx, 1, exam.ID, &exam, "breach", "admin:9", now.Add(time.Minute)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	// Latest submission has attemptNumber 2; maxAttempts must exceed it.
	tooLow := 2
	if _, err := r.GrantRetake(ctx, 1, exam.ID, &exam, &tooLow, "admin:9", now.Add(2*time.Minute)); err != ErrMaxAttemptsTooLow {
		t.Fatalf("want ErrMaxAttemptsTooLow, got %v", err)
	}
}

func TestGrantRetakeWithoutHistoryCreatesPlaceholder(t *testing.T) {
	r, store, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	placeholder, err := r.GrantRetake(ctx, 2, exam.ID, &exam, nil, "admin:9", now)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	if !placeholder.IsPlaceholder || !placeholder.IsRetakeAllowed {
		t.Fatalf("want a retake-eligible placeholder, got %+v", placeholder)
	}
	if placeholder.TotalPointsAwarded != 0 {
		t.Fatalf("placeholder must be zero-score")
	}
	for _, res := range placeholder.Results {
		if res.Outcome != model.OutcomeEmpty {
			t.Fatalf("placeholder results must be all-empty")
		}
	}

	// Placeholders never surface in history.
	history, err := r.History(ctx, 2, exam.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("placeholder leaked into history: %+v", history)
	}

	all, _ := store.ListByUserExam(ctx, 2, exam.ID)
	if len(all) != 1 {
		t.Fatalf("placeholder should exist in the store")
	}
}

func TestRetakeFlowProducesNextAttempt(t *testing.T) {
	r, store, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, map[string]string{"q1": "A"}, now); err != nil {
		t.Fatalf("attempt 1: %v", err)
	}
	invalidated, err := r.CreateInvalidatedSubmission(ctx, 1, exam.ID, &exam, "breach", "admin:9", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	max := 3
	if _, err := r.GrantRetake(ctx, 1, exam.ID, &exam, &max, "admin:9", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("grant: %v", err)
	}

	retried, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, map[string]string{"q1": "A", "q2": "B"}, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("retake submit: %v", err)
	}
	if retried.AttemptNumber != 3 {
		t.Fatalf("want attempt 3, got %d", retried.AttemptNumber)
	}

	// The grant holder lost eligibility.
	holder, err := store.GetByID(ctx, invalidated.ID)
	if err != nil {
		t.Fatalf("holder lookup: %v", err)
	}
	if holder.IsRetakeAllowed {
		t.Fatalf("retake must be revoked on the prior holder")
	}
	if holder.RetakeRevokedAt == nil {
		t.Fatalf("revocation must be timestamped")
	}
	if !holder.Flagged {
		t.Fatalf("the invalidation record must stay flagged")
	}
}

func TestRevokeRetakeFallsBackWhenTargetGone(t *testing.T) {
	r, store, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	granted, err := r.GrantRetake(ctx, 1, exam.ID, &exam, nil, "admin:9", now)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	// Revoke by an id that no longer exists; the holder must be found by pair.
	revoked, err := r.RevokeRetake(ctx, uuid.New(), 1, exam.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.ID != granted.ID {
		t.Fatalf("fallback must locate the retake-eligible submission")
	}

	all, _ := store.ListByUserExam(ctx, 1, exam.ID)
	for _, s := range all {
		if s.IsRetakeAllowed {
			t.Fatalf("no submission should remain retake-eligible")
		}
	}
}

func TestNoStaleDuplicatesAfterEveryOperation(t *testing.T) {
	r, store, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	assertInvariant := func(step string) {
		t.Helper()
		all, _ := store.ListByUserExam(ctx, 1, exam.ID)
		for _, s := range all {
			if !s.Flagged && s.IsZeroScore() && !s.IsRetakeAllowed {
				t.Fatalf("after %s: zero-score non-flagged row without a grant: %+v", step, s)
			}
		}
	}

	r.GrantRetake(ctx, 1, exam.ID, &exam, nil, "admin:9", now)
	assertInvariant("grant")

	r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, map[string]string{"q1": "A"}, now.Add(time.Minute))
	assertInvariant("finalize")

	r.CreateInvalidatedSubmission(ctx, 1, exam.ID, &exam, "breach", "admin:9", now.Add(2*time.Minute))
	assertInvariant("invalidate")

	max := 5
	r.GrantRetake(ctx, 1, exam.ID, &exam, &max, "admin:9", now.Add(3*time.Minute))
	assertInvariant("second grant")
}

func TestApplyScoreOverrideRecomputesTotal(t *testing.T) {
	r, _, exam := reconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	sub, err := r.FinalizeNormalSubmission(ctx, sessionFor(1, exam.ID), &exam, map[string]string{"q1": "A"}, now)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	updated, err := r.ApplyScoreOverride(ctx, sub.ID, "q2", 3)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if updated.TotalPointsAwarded != 5 {
		t.Fatalf("want total 5 after override, got %d", updated.TotalPointsAwarded)
	}

	if _, err := r.ApplyScoreOverride(ctx, sub.ID, "missing", 1); err == nil {
		t.Fatalf("override for an unknown question must fail")
	}
}
