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

// SessionLifecycle owns every status transition of a session. No other
// component mutates a session's status. Per-pair operations are serialized
// through a single-writer lock; operations across pairs run independently.
type SessionLifecycle struct {
	sessions   SessionStore
	exams      ExamProvider
	reconciler *SubmissionReconciler
	dedup      *Deduplicator
	vlog       ViolationLog
	bc         broadcast.Broadcaster
	threshold  int
	grace      time.Duration
	locks      *pairLocks
	log        zerolog.Logger
}

// NewSessionLifecycle creates the lifecycle manager. vlog may be nil to
// disable durable violation logging.
func NewSessionLifecycle(
	sessions SessionStore,
	exams ExamProvider,
	reconciler *SubmissionReconciler,
	dedup *Deduplicator,
	vlog ViolationLog,
	bc broadcast.Broadcaster,
	threshold int,
	grace time.Duration,
	log zerolog.Logger,
) *SessionLifecycle {
	return &SessionLifecycle{
		sessions:   sessions,
		exams:      exams,
		reconciler: reconciler,
		dedup:      dedup,
		vlog:       vlog,
		bc:         bc,
		threshold:  threshold,
		grace:      grace,
		locks:      newPairLocks(),
		log:        log.With().Str("component", "session_lifecycle").Logger(),
	}
}

// StartSession begins a fresh attempt. Any prior live session for the pair
// is marked ABANDONED, never resumed: an explicit "Start Exam" click must
// not inherit an old timer or violation count, even if network issues left
// a stale live session behind.
func (s *SessionLifecycle) StartSession(ctx context.Context, userID int, examID uuid.UUID, ipAddress, userAgent string, now time.Time) (*model.Session, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	release := s.locks.acquire(userID, examID)
	defer release()

	if prior, err := s.sessions.FindLive(ctx, userID, examID); err == nil {
		prior.Status = model.SessionStatusAbandoned
		if err := s.sessions.Update(ctx, prior); err != nil {
			return nil, fmt.Errorf("abandon stale session: %w", err)
		}
		s.log.Info().
			Str("session_id", prior.ID.String()).
			Int("user_id", userID).
			Msg("Stale live session superseded by fresh start")
		s.bc.Publish(ctx, broadcast.FromSession(broadcast.EventSessionAbandoned, prior, exam))
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("find live session: %w", err)
	}

	session := &model.Session{
		ID:              uuid.New(),
		UserID:          userID,
		ExamID:          examID,
		StartTime:       now,
		LastHeartbeat:   now,
		ProgressCurrent: 0,
		ProgressTotal:   exam.QuestionCount,
		ViolationsCount: 0,
		Status:          model.SessionStatusActive,
		IPAddress:       ipAddress,
		UserAgent:       userAgent,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.bc.Publish(ctx, broadcast.FromSession(broadcast.EventSessionStarted, session, exam))
	return session, nil
}

// RecordHeartbeat refreshes liveness and progress. A heartbeat racing a
// submit or cleanup is expected and harmless, so a missing or terminal
// session is logged and ignored rather than erroring. A FLAGGED student
// keeps answering, so FLAGGED heartbeats succeed too.
func (s *SessionLifecycle) RecordHeartbeat(ctx context.Context, sessionID uuid.UUID, progressCurrent, progressTotal int, now time.Time) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.log.Debug().Str("session_id", sessionID.String()).Msg("Heartbeat for unknown session ignored")
			return nil
		}
		return fmt.Errorf("get session: %w", err)
	}

	release := s.locks.acquire(session.UserID, session.ExamID)
	defer release()

	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil // raced with cleanup; nothing to refresh
	}
	if session.Status.IsTerminal() {
		s.log.Debug().Str("session_id", sessionID.String()).Msg("Heartbeat for terminal session ignored")
		return nil
	}

	session.LastHeartbeat = now
	session.ProgressCurrent = progressCurrent
	if progressTotal > 0 {
		session.ProgressTotal = progressTotal
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}

	s.bc.Publish(ctx, broadcast.FromSession(broadcast.EventHeartbeat, session, nil))
	return nil
}

// RecordViolation runs the report through the deduplicator, then counts it
// and flags the session once the threshold is crossed. A FLAGGED session
// never reverts to ACTIVE on its own. Returns the updated session and
// whether the violation counted.
func (s *SessionLifecycle) RecordViolation(ctx context.Context, sessionID uuid.UUID, v model.ViolationEvent, now time.Time) (*model.Session, bool, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, false, ErrNoLiveSession
		}
		return nil, false, fmt.Errorf("get session: %w", err)
	}

	release := s.locks.acquire(session.UserID, session.ExamID)
	defer release()

	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, false, ErrNoLiveSession
	}
	if session.Status.IsTerminal() {
		// Violation racing a submit/abandon: discard, the attempt is over.
		s.log.Debug().Str("session_id", sessionID.String()).Msg("Violation for terminal session ignored")
		return session, false, nil
	}

	v.SessionID = session.ID
	v.ReportedAt = now

	if !s.dedup.Accept(session.UserID, session.ExamID, v, now) {
		// Duplicate inside the window: still proof of life.
		session.LastHeartbeat = now
		if err := s.sessions.Update(ctx, session); err != nil {
			return nil, false, fmt.Errorf("refresh heartbeat: %w", err)
		}
		s.log.Debug().
			Str("session_id", sessionID.String()).
			Str("type", v.Type).
			Msg("Duplicate violation suppressed")
		return session, false, nil
	}

	session.ViolationsCount++
	session.LastHeartbeat = now

	flagged := false
	if session.Status == model.SessionStatusActive && session.ViolationsCount >= s.threshold {
		session.Status = model.SessionStatusFlagged
		flagged = true
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, false, fmt.Errorf("update session: %w", err)
	}

	if s.vlog != nil {
		// Best-effort audit trail; never fails the transition.
		if err := s.vlog.Record(ctx, session.UserID, session.ExamID, v); err != nil {
			s.log.Warn().Err(err).Msg("Violation log write failed")
		}
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("type", v.Type).
		Int("violations", session.ViolationsCount).
		Bool("flagged", flagged).
		Msg("Violation recorded")

	s.bc.Publish(ctx, broadcast.FromSession(broadcast.EventViolation, session, nil))
	if flagged {
		s.bc.Publish(ctx, broadcast.FromSession(broadcast.EventSessionFlagged, session, nil))
	}

	return session, true, nil
}

// Submit closes the attempt and finalizes its submission. Time remaining is
// deliberately not evaluated: a late or flagged submit still closes the
// session cleanly. The submission is persisted before the session flips so
// a failure never leaves a SUBMITTED session without a submission.
func (s *SessionLifecycle) Submit(ctx context.Context, sessionID uuid.UUID, answers map[string]string, now time.Time) (*model.Session, *model.Submission, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get session: %w", err)
	}

	release := s.locks.acquire(session.UserID, session.ExamID)
	defer release()

	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get session: %w", err)
	}
	if session.Status.IsTerminal() {
		return nil, nil, ErrSessionTerminal
	}

	exam, err := s.exams.GetByID(ctx, session.ExamID)
	if err != nil {
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}

	submission, err := s.reconciler.FinalizeNormalSubmission(ctx, session, exam, answers, now)
	if err != nil {
		return nil, nil, err
	}

	session.Status = model.SessionStatusSubmitted
	session.LastHeartbeat = now
	if err := s.sessions.Update(ctx, session); err != nil {
		// The submission is durable; converge the session rather than
		// leaving the pair half-applied.
		if retryErr := s.sessions.Update(ctx, session); retryErr != nil {
			return nil, nil, fmt.Errorf("mark session submitted: %w", retryErr)
		}
	}

	s.bc.Publish(ctx, broadcast.FromSession(broadcast.EventSessionSubmitted, session, exam))
	return session, submission, nil
}

// ExpireIfPastDeadline transitions a live session to EXPIRED once the exam
// window plus grace period has elapsed. The grace period absorbs clock skew
// and brief disconnects without punishing the student. Invoked lazily from
// read paths and periodically by the cleanup worker.
func (s *SessionLifecycle) ExpireIfPastDeadline(ctx context.Context, session *model.Session, examDurationMinutes int, now time.Time) (bool, error) {
	if session.Status.IsTerminal() {
		return false, nil
	}
	examEnd := session.StartTime.Add(time.Duration(examDurationMinutes) * time.Minute)
	if !now.After(examEnd.Add(s.grace)) {
		return false, nil
	}

	release := s.locks.acquire(session.UserID, session.ExamID)
	defer release()

	current, err := s.sessions.GetByID(ctx, session.ID)
	if err != nil {
		return false, nil // already cleaned up
	}
	if current.Status.IsTerminal() {
		return false, nil
	}

	current.Status = model.SessionStatusExpired
	if err := s.sessions.Update(ctx, current); err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	*session = *current

	s.log.Info().
		Str("session_id", session.ID.String()).
		Int("user_id", session.UserID).
		Msg("Session expired past deadline")

	s.bc.Publish(ctx, broadcast.FromSession(broadcast.EventSessionExpired, session, nil))
	return true, nil
}

// Invalidate marks the session ABANDONED (distinct from EXPIRED) as the
// session half of an integrity invalidation. The reconciler half, the
// flagged submission, is driven by the intervention service.
func (s *SessionLifecycle) Invalidate(ctx context.Context, sessionID uuid.UUID, reason string, now time.Time) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	release := s.locks.acquire(session.UserID, session.ExamID)
	defer release()

	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return session, nil
	}

	session.Status = model.SessionStatusAbandoned
	session.LastHeartbeat = now
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("invalidate session: %w", err)
	}

	evt := broadcast.FromSession(broadcast.EventSessionInvalidated, session, nil)
	evt.Reason = reason
	s.bc.Publish(ctx, evt)
	return session, nil
}

// ForceFlag pushes a session to FLAGGED on admin decision regardless of its
// violation count. Terminal sessions are left untouched.
func (s *SessionLifecycle) ForceFlag(ctx context.Context, sessionID uuid.UUID, reason string, now time.Time) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	release := s.locks.acquire(session.UserID, session.ExamID)
	defer release()

	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, ErrSessionTerminal
	}

	if session.Status != model.SessionStatusFlagged {
		session.Status = model.SessionStatusFlagged
		if err := s.sessions.Update(ctx, session); err != nil {
			return nil, fmt.Errorf("flag session: %w", err)
		}
	}

	evt := broadcast.FromSession(broadcast.EventSessionFlagged, session, nil)
	evt.Reason = reason
	s.bc.Publish(ctx, evt)
	return session, nil
}

// State returns the live session for the pair with lazy expiry applied and
// the authoritative remaining time.
func (s *SessionLifecycle) State(ctx context.Context, userID int, examID uuid.UUID, now time.Time) (*model.Session, time.Duration, error) {
	session, err := s.sessions.FindLive(ctx, userID, examID)
	if err != nil {
		return nil, 0, err
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, 0, fmt.Errorf("get exam: %w", err)
	}

	if expired, err := s.ExpireIfPastDeadline(ctx, session, exam.DurationMinutes, now); err != nil {
		return nil, 0, err
	} else if expired {
		return session, 0, nil
	}

	return session, model.TimeRemaining(session.StartTime, exam.DurationMinutes, now), nil
}

// ResolveAlert records an alert acknowledgement on the session so the
// derived alert stays resolved across regenerations.
func (s *SessionLifecycle) ResolveAlert(ctx context.Context, sessionID uuid.UUID, alertID string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	release := s.locks.acquire(session.UserID, session.ExamID)
	defer release()

	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HasResolvedAlert(alertID) {
		return nil
	}

	session.ResolvedAlertIDs = append(session.ResolvedAlertIDs, alertID)
	return s.sessions.Update(ctx, session)
}
