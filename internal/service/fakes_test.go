package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// fakeSessionStore is an in-memory SessionStore.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]model.Session)}
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := s
	return &copied, nil
}

func (f *fakeSessionStore) FindLive(_ context.Context, userID int, examID uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.ExamID == examID && s.Status.IsLive() {
			copied := s
			return &copied, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeSessionStore) Update(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeSessionStore) ListLiveByExam(_ context.Context, examID uuid.UUID) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.ExamID == examID && s.Status.IsLive() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) ListLive(_ context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.Status.IsLive() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, s := range f.sessions {
		if s.Status.IsTerminal() && s.LastHeartbeat.Before(cutoff) {
			delete(f.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// liveCount reports how many live sessions exist for a pair.
func (f *fakeSessionStore) liveCount(userID int, examID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID && s.ExamID == examID && s.Status.IsLive() {
			n++
		}
	}
	return n
}

// fakeSubmissionStore is an in-memory SubmissionStore.
type fakeSubmissionStore struct {
	mu          sync.Mutex
	submissions map[uuid.UUID]model.Submission
}

func newFakeSubmissionStore() *fakeSubmissionStore {
	return &fakeSubmissionStore{submissions: make(map[uuid.UUID]model.Submission)}
}

func (f *fakeSubmissionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.submissions[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	copied := s
	return &copied, nil
}

func (f *fakeSubmissionStore) ListByUserExam(_ context.Context, userID int, examID uuid.UUID) ([]model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Submission
	for _, s := range f.submissions {
		if s.UserID == userID && s.ExamID == examID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

func (f *fakeSubmissionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Submission
	for _, s := range f.submissions {
		if s.ExamID == examID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

func (f *fakeSubmissionStore) Create(_ context.Context, s *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[s.ID] = *s
	return nil
}

func (f *fakeSubmissionStore) Update(_ context.Context, s *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.submissions[s.ID]; !ok {
		return ErrSubmissionNotFound
	}
	f.submissions[s.ID] = *s
	return nil
}

func (f *fakeSubmissionStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.submissions, id)
	return nil
}

// fakeExamProvider serves a fixed exam set.
type fakeExamProvider struct {
	exams map[uuid.UUID]model.Exam
}

func newFakeExamProvider(exams ...model.Exam) *fakeExamProvider {
	m := make(map[uuid.UUID]model.Exam, len(exams))
	for _, e := range exams {
		m[e.ID] = e
	}
	return &fakeExamProvider{exams: m}
}

func (f *fakeExamProvider) GetByID(_ context.Context, examID uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	copied := e
	return &copied, nil
}

// fakeViolationLog records violations in memory.
type fakeViolationLog struct {
	mu      sync.Mutex
	entries []model.ViolationEvent
}

func (f *fakeViolationLog) Record(_ context.Context, _ int, _ uuid.UUID, v model.ViolationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, v)
	return nil
}
