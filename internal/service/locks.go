package service

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// pairLocks serializes all mutations for one (user, exam) pair through a
// single-writer discipline. Operations across different pairs stay
// independent. Locks are never evicted; the entry is a bare mutex and the
// pair space is bounded by enrolment.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the pair and returns the release function.
func (l *pairLocks) acquire(userID int, examID uuid.UUID) func() {
	key := fmt.Sprintf("%d:%s", userID, examID)

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
