package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/broadcast"
	"github.com/stemsi/examguard-backend/internal/model"
)

// Intervention applies proctor and admin decisions by driving the lifecycle
// manager and the reconciler. It never mutates session status itself.
type Intervention struct {
	sessions    SessionStore
	submissions SubmissionStore
	exams       ExamProvider
	lifecycle   *SessionLifecycle
	reconciler  *SubmissionReconciler
	bc          broadcast.Broadcaster
	log         zerolog.Logger
}

func NewIntervention(
	sessions SessionStore,
	submissions SubmissionStore,
	exams ExamProvider,
	lifecycle *SessionLifecycle,
	reconciler *SubmissionReconciler,
	bc broadcast.Broadcaster,
	log zerolog.Logger,
) *Intervention {
	return &Intervention{
		sessions:    sessions,
		submissions: submissions,
		exams:       exams,
		lifecycle:   lifecycle,
		reconciler:  reconciler,
		bc:          bc,
		log:         log.With().Str("component", "intervention").Logger(),
	}
}

// FlagSession forces the session to FLAGGED and marks the pair's existing
// submissions with the flag reason. It does not create a new submission;
// only an invalidation does that.
func (i *Intervention) FlagSession(ctx context.Context, sessionID uuid.UUID, reason, actor string, now time.Time) (*model.Session, error) {
	session, err := i.lifecycle.ForceFlag(ctx, sessionID, reason, now)
	if err != nil {
		return nil, err
	}

	existing, err := i.submissions.ListByUserExam(ctx, session.UserID, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	flaggedAt := now
	for idx := range existing {
		sub := &existing[idx]
		if sub.IsPlaceholder || sub.Flagged {
			continue
		}
		sub.Flagged = true
		sub.FlagReason = reason
		sub.FlaggedAt = &flaggedAt
		sub.FlaggedBy = actor
		if err := i.submissions.Update(ctx, sub); err != nil {
			return nil, fmt.Errorf("flag submission: %w", err)
		}
	}

	i.log.Info().
		Str("session_id", sessionID.String()).
		Str("actor", actor).
		Str("reason", reason).
		Msg("Session flagged by intervention")
	return session, nil
}

// InvalidateSession is the terminal integrity action: the session is
// abandoned, a fresh flagged submission records the breach, and the
// session's outstanding alerts are auto-resolved since they are noise once
// the invalidation has landed.
func (i *Intervention) InvalidateSession(ctx context.Context, sessionID uuid.UUID, reason, actor string, now time.Time) (*model.Session, *model.Submission, error) {
	session, err := i.lifecycle.Invalidate(ctx, sessionID, reason, now)
	if err != nil {
		return nil, nil, err
	}

	exam, err := i.exams.GetByID(ctx, session.ExamID)
	if err != nil {
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}

	submission, err := i.reconciler.CreateInvalidatedSubmission(ctx, session.UserID, session.ExamID, exam, reason, actor, now)
	if err != nil {
		return nil, nil, err
	}

	if err := i.lifecycle.ResolveAlert(ctx, sessionID, model.AlertID(sessionID)); err != nil && !errors.Is(err, ErrSessionNotFound) {
		i.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Alert auto-resolve failed")
	}

	evt := broadcast.FromSession(broadcast.EventSubmissionFlagged, session, exam)
	evt.Reason = reason
	evt.Actor = actor
	i.bc.Publish(ctx, evt)

	i.log.Info().
		Str("session_id", sessionID.String()).
		Str("actor", actor).
		Int("attempt", submission.AttemptNumber).
		Msg("Session invalidated")
	return session, submission, nil
}

// RequireRetake grants a retake addressed by session. The grant itself
// lives on the submission record, so this resolves the pair and delegates.
func (i *Intervention) RequireRetake(ctx context.Context, sessionID uuid.UUID, maxAttempts *int, actor string, now time.Time) (*model.Submission, error) {
	session, err := i.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return i.GrantRetake(ctx, session.UserID, session.ExamID, maxAttempts, actor, now)
}

// GrantRetake grants a retake addressed by pair, which also covers the case
// where no session ever existed for the student.
func (i *Intervention) GrantRetake(ctx context.Context, userID int, examID uuid.UUID, maxAttempts *int, actor string, now time.Time) (*model.Submission, error) {
	exam, err := i.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	submission, err := i.reconciler.GrantRetake(ctx, userID, examID, exam, maxAttempts, actor, now)
	if err != nil {
		return nil, err
	}

	i.bc.Publish(ctx, broadcast.SessionEvent{
		Type:      broadcast.EventRetakeGranted,
		UserID:    userID,
		ExamID:    examID.String(),
		ExamTitle: exam.Title,
		Actor:     actor,
	})
	return submission, nil
}

// RevokeRetake withdraws a previously granted retake.
func (i *Intervention) RevokeRetake(ctx context.Context, submissionID uuid.UUID, userID int, examID uuid.UUID, actor string, now time.Time) (*model.Submission, error) {
	submission, err := i.reconciler.RevokeRetake(ctx, submissionID, userID, examID, now)
	if err != nil {
		return nil, err
	}

	i.bc.Publish(ctx, broadcast.SessionEvent{
		Type:   broadcast.EventRetakeRevoked,
		UserID: submission.UserID,
		ExamID: submission.ExamID.String(),
		Actor:  actor,
	})
	return submission, nil
}

// ImposePenalty scales the latest real submission's awarded total down by
// penaltyPct percent, rounded, floored at zero. The submission is left
// unflagged: a penalty is a grading decision, not an integrity verdict.
func (i *Intervention) ImposePenalty(ctx context.Context, sessionID uuid.UUID, penaltyPct int, actor string, now time.Time) (*model.Submission, error) {
	if penaltyPct < 1 || penaltyPct > 100 {
		return nil, fmt.Errorf("penalty_pct %d out of range", penaltyPct)
	}

	session, err := i.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	existing, err := i.submissions.ListByUserExam(ctx, session.UserID, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	var target *model.Submission
	for idx := range existing {
		if existing[idx].IsPlaceholder {
			continue
		}
		if target == nil || existing[idx].SubmittedAt.After(target.SubmittedAt) {
			target = &existing[idx]
		}
	}
	if target == nil {
		return nil, ErrSubmissionNotFound
	}

	before := target.TotalPointsAwarded
	penalized := (before*(100-penaltyPct) + 50) / 100
	if penalized < 0 {
		penalized = 0
	}
	target.TotalPointsAwarded = penalized
	if err := i.submissions.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("apply penalty: %w", err)
	}

	evt := broadcast.FromSession(broadcast.EventPenaltyImposed, session, nil)
	evt.Actor = actor
	i.bc.Publish(ctx, evt)

	i.log.Info().
		Str("submission_id", target.ID.String()).
		Int("penalty_pct", penaltyPct).
		Int("before", before).
		Int("after", penalized).
		Str("actor", actor).
		Msg("Penalty imposed")
	return target, nil
}

// ForceInvalidateSubmission rewrites one specific submission in place:
// every result becomes disqualified with zero award and the record is
// flagged. This is the only operation that edits an existing submission's
// results, used when the offending record already exists and must be
// corrected rather than duplicated.
func (i *Intervention) ForceInvalidateSubmission(ctx context.Context, submissionID uuid.UUID, reason, actor string, now time.Time) (*model.Submission, error) {
	submission, err := i.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	for idx := range submission.Results {
		submission.Results[idx].Outcome = model.OutcomeDisqualified
		submission.Results[idx].PointsAwarded = 0
		submission.Results[idx].OverridePoints = nil
	}
	submission.TotalPointsAwarded = 0
	flaggedAt := now
	submission.Flagged = true
	submission.FlagReason = reason
	submission.FlaggedAt = &flaggedAt
	submission.FlaggedBy = actor

	if err := i.submissions.Update(ctx, submission); err != nil {
		return nil, fmt.Errorf("invalidate submission: %w", err)
	}

	i.bc.Publish(ctx, broadcast.SessionEvent{
		Type:   broadcast.EventSubmissionFlagged,
		UserID: submission.UserID,
		ExamID: submission.ExamID.String(),
		Reason: reason,
		Actor:  actor,
	})

	i.log.Info().
		Str("submission_id", submissionID.String()).
		Str("actor", actor).
		Msg("Submission force-invalidated")
	return submission, nil
}

// ApplyScoreOverride forwards a lecturer override to the reconciler.
func (i *Intervention) ApplyScoreOverride(ctx context.Context, submissionID uuid.UUID, questionID string, points int) (*model.Submission, error) {
	return i.reconciler.ApplyScoreOverride(ctx, submissionID, questionID, points)
}

// History returns the pair's user-visible submission history.
func (i *Intervention) History(ctx context.Context, userID int, examID uuid.UUID) ([]model.Submission, error) {
	return i.reconciler.History(ctx, userID, examID)
}
