package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

// SubmissionReconciler keeps the submission history of a (user, exam) pair
// consistent: at most one retake-eligible record, no stale zero-score
// duplicates, and one independently visible flagged row per integrity
// breach.
type SubmissionReconciler struct {
	submissions SubmissionStore
	grade       GradeFunc
	log         zerolog.Logger
}

// NewSubmissionReconciler creates a reconciler. grade defaults to
// GradeByAnswerKey when nil.
func NewSubmissionReconciler(submissions SubmissionStore, grade GradeFunc, log zerolog.Logger) *SubmissionReconciler {
	if grade == nil {
		grade = GradeByAnswerKey
	}
	return &SubmissionReconciler{
		submissions: submissions,
		grade:       grade,
		log:         log.With().Str("component", "submission_reconciler").Logger(),
	}
}

// FinalizeNormalSubmission grades the attempt and persists the outcome.
// A resubmit without an active retake grant is a conflict. Whatever record
// currently holds retake eligibility, placeholder or real, loses it.
func (r *SubmissionReconciler) FinalizeNormalSubmission(ctx context.Context, session *model.Session, exam *model.Exam, answers map[string]string, now time.Time) (*model.Submission, error) {
	existing, err := r.submissions.ListByUserExam(ctx, session.UserID, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	attempts := 0
	hasGrant := false
	for i := range existing {
		if !existing[i].IsPlaceholder {
			attempts++
		}
		if existing[i].IsRetakeAllowed {
			hasGrant = true
		}
	}
	if attempts > 0 && !hasGrant {
		return nil, ErrAlreadySubmitted
	}

	// Revoke eligibility on the current holder before creating the new row.
	for i := range existing {
		if existing[i].IsRetakeAllowed {
			existing[i].IsRetakeAllowed = false
			revokedAt := now
			existing[i].RetakeRevokedAt = &revokedAt
			if err := r.submissions.Update(ctx, &existing[i]); err != nil {
				return nil, fmt.Errorf("revoke retake: %w", err)
			}
		}
	}

	results, awarded, possible := r.grade(exam, answers)

	submission := &model.Submission{
		ID:                  uuid.New(),
		UserID:              session.UserID,
		ExamID:              session.ExamID,
		AttemptNumber:       attempts + 1,
		Results:             results,
		TotalPointsAwarded:  awarded,
		TotalPointsPossible: possible,
		SubmittedAt:         now,
	}
	if err := r.submissions.Create(ctx, submission); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	r.log.Info().
		Int("user_id", session.UserID).
		Str("exam_id", session.ExamID.String()).
		Int("attempt", submission.AttemptNumber).
		Int("awarded", awarded).
		Msg("Submission finalized")

	if err := r.sweepDuplicates(ctx, session.UserID, session.ExamID, submission.ID); err != nil {
		r.log.Warn().Err(err).Msg("Duplicate sweep failed")
	}
	return submission, nil
}

// CreateInvalidatedSubmission records an integrity breach as a brand-new
// flagged submission with every question disqualified. Prior records are
// never edited: a student breached N times leaves N distinct flagged rows.
func (r *SubmissionReconciler) CreateInvalidatedSubmission(ctx context.Context, userID int, examID uuid.UUID, exam *model.Exam, reason, invalidatedBy string, now time.Time) (*model.Submission, error) {
	existing, err := r.submissions.ListByUserExam(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	// Attempt numbering continues from the latest row, flagged or not.
	attempt := 1
	for i := range existing {
		if !existing[i].IsPlaceholder && existing[i].AttemptNumber >= attempt {
			attempt = existing[i].AttemptNumber + 1
		}
	}

	results, possible := disqualifiedResults(exam)
	flaggedAt := now

	submission := &model.Submission{
		ID:                  uuid.New(),
		UserID:              userID,
		ExamID:              examID,
		AttemptNumber:       attempt,
		Results:             results,
		TotalPointsAwarded:  0,
		TotalPointsPossible: possible,
		SubmittedAt:         now,
		Flagged:             true,
		FlagReason:          reason,
		FlaggedAt:           &flaggedAt,
		FlaggedBy:           invalidatedBy,
	}
	if err := r.submissions.Create(ctx, submission); err != nil {
		return nil, fmt.Errorf("create invalidated submission: %w", err)
	}

	// Revoke every other grant FIRST: a submission still holding retake
	// eligibility would otherwise be protected from the sweep below while
	// also being a stale zero-score duplicate.
	for i := range existing {
		if existing[i].IsRetakeAllowed {
			existing[i].IsRetakeAllowed = false
			revokedAt := now
			existing[i].RetakeRevokedAt = &revokedAt
			if err := r.submissions.Update(ctx, &existing[i]); err != nil {
				return nil, fmt.Errorf("revoke retake: %w", err)
			}
		}
	}

	if err := r.sweepDuplicates(ctx, userID, examID, submission.ID); err != nil {
		r.log.Warn().Err(err).Msg("Duplicate sweep failed")
	}

	r.log.Info().
		Int("user_id", userID).
		Str("exam_id", examID.String()).
		Int("attempt", attempt).
		Str("reason", reason).
		Msg("Invalidated submission created")

	return submission, nil
}

// GrantRetake authorizes a new attempt. With no submission on record a
// placeholder row is synthesized purely to carry the grant; otherwise the
// most recent submission receives it. A flagged submission stays flagged:
// the invalidation must remain visible in history even while its holder is
// permitted to retake.
func (r *SubmissionReconciler) GrantRetake(ctx context.Context, userID int, examID uuid.UUID, exam *model.Exam, maxAttempts *int, grantedBy string, now time.Time) (*model.Submission, error) {
	existing, err := r.submissions.ListByUserExam(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	grantedAt := now

	if len(existing) == 0 {
		attempts := 1
		if maxAttempts != nil {
			if *maxAttempts < 1 {
				return nil, ErrMaxAttemptsTooLow
			}
			attempts = *maxAttempts
		}
		results, possible := emptyResults(exam)
		placeholder := &model.Submission{
			ID:                  uuid.New(),
			UserID:              userID,
			ExamID:              examID,
			AttemptNumber:       0,
			Results:             results,
			TotalPointsAwarded:  0,
			TotalPointsPossible: possible,
			SubmittedAt:         now,
			MaxAttempts:         attempts,
			IsRetakeAllowed:     true,
			RetakeGrantedBy:     grantedBy,
			RetakeGrantedAt:     &grantedAt,
			IsPlaceholder:       true,
		}
		if err := r.submissions.Create(ctx, placeholder); err != nil {
			return nil, fmt.Errorf("create placeholder: %w", err)
		}
		return placeholder, nil
	}

	target := mostRecent(existing)
	attempts := target.AttemptNumber + 1
	if maxAttempts != nil {
		if *maxAttempts <= target.AttemptNumber {
			return nil, ErrMaxAttemptsTooLow
		}
		attempts = *maxAttempts
	}

	target.IsRetakeAllowed = true
	target.MaxAttempts = attempts
	target.RetakeGrantedBy = grantedBy
	target.RetakeGrantedAt = &grantedAt
	target.RetakeRevokedAt = nil
	if err := r.submissions.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("grant retake: %w", err)
	}

	if err := r.sweepDuplicates(ctx, userID, examID, target.ID); err != nil {
		r.log.Warn().Err(err).Msg("Duplicate sweep failed")
	}
	return target, nil
}

// RevokeRetake withdraws a grant. If the addressed submission was removed
// by a cleanup sweep in the meantime, the most recent retake-eligible
// submission for the pair is revoked instead.
func (r *SubmissionReconciler) RevokeRetake(ctx context.Context, submissionID uuid.UUID, userID int, examID uuid.UUID, now time.Time) (*model.Submission, error) {
	target, err := r.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if !errors.Is(err, ErrSubmissionNotFound) {
			return nil, fmt.Errorf("get submission: %w", err)
		}
		existing, listErr := r.submissions.ListByUserExam(ctx, userID, examID)
		if listErr != nil {
			return nil, fmt.Errorf("list submissions: %w", listErr)
		}
		for i := range existing {
			if existing[i].IsRetakeAllowed {
				target = &existing[i]
				break
			}
		}
		if target == nil {
			return nil, ErrSubmissionNotFound
		}
	}

	target.IsRetakeAllowed = false
	revokedAt := now
	target.RetakeRevokedAt = &revokedAt
	if err := r.submissions.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("revoke retake: %w", err)
	}

	if err := r.sweepDuplicates(ctx, target.UserID, target.ExamID, target.ID); err != nil {
		r.log.Warn().Err(err).Msg("Duplicate sweep failed")
	}
	return target, nil
}

// ApplyScoreOverride records a lecturer override for one question and
// recomputes the stored total.
func (r *SubmissionReconciler) ApplyScoreOverride(ctx context.Context, submissionID uuid.UUID, questionID string, points int) (*model.Submission, error) {
	submission, err := r.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	found := false
	for i := range submission.Results {
		if submission.Results[i].QuestionID == questionID {
			override := points
			submission.Results[i].OverridePoints = &override
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("question %s not in submission results", questionID)
	}

	submission.TotalPointsAwarded = submission.EffectiveTotal()
	if err := r.submissions.Update(ctx, submission); err != nil {
		return nil, fmt.Errorf("apply override: %w", err)
	}
	return submission, nil
}

// History lists the pair's submissions with placeholders filtered out;
// synthetic grant-carrier rows must never surface to users.
func (r *SubmissionReconciler) History(ctx context.Context, userID int, examID uuid.UUID) ([]model.Submission, error) {
	existing, err := r.submissions.ListByUserExam(ctx, userID, examID)
	if err != nil {
		return nil, err
	}
	history := make([]model.Submission, 0, len(existing))
	for i := range existing {
		if !existing[i].IsPlaceholder {
			history = append(history, existing[i])
		}
	}
	return history, nil
}

// sweepDuplicates removes stale zero-score rows. Eligibility is read
// strictly before computing the delete set, so a submission can never be
// both protected as retake-eligible and deleted as a duplicate in the same
// sweep. Placeholders without a grant are always garbage; other zero-score
// non-flagged rows are garbage only once a flagged submission exists for
// the pair (an honest zero-score attempt with no breach history survives).
func (r *SubmissionReconciler) sweepDuplicates(ctx context.Context, userID int, examID uuid.UUID, excludeID uuid.UUID) error {
	existing, err := r.submissions.ListByUserExam(ctx, userID, examID)
	if err != nil {
		return err
	}

	flaggedExists := false
	for i := range existing {
		if existing[i].Flagged {
			flaggedExists = true
			break
		}
	}

	for i := range existing {
		sub := &existing[i]
		if sub.ID == excludeID || sub.IsRetakeAllowed || sub.Flagged {
			continue
		}
		if !sub.IsZeroScore() {
			continue
		}
		if !sub.IsPlaceholder && !flaggedExists {
			continue
		}
		if err := r.submissions.Delete(ctx, sub.ID); err != nil {
			return fmt.Errorf("delete duplicate %s: %w", sub.ID, err)
		}
		r.log.Debug().
			Str("submission_id", sub.ID.String()).
			Int("user_id", userID).
			Msg("Stale zero-score submission removed")
	}
	return nil
}

// mostRecent returns the submission with the latest SubmittedAt.
func mostRecent(subs []model.Submission) *model.Submission {
	latest := &subs[0]
	for i := range subs {
		if subs[i].SubmittedAt.After(latest.SubmittedAt) {
			latest = &subs[i]
		}
	}
	return latest
}
