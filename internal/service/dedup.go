package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// messagePrefixLen bounds how much of a violation message participates in
// duplicate matching. Reconnect storms repeat the same head; suffixes often
// carry timestamps or counters.
const messagePrefixLen = 48

// acceptedViolation is one violation admitted inside the dedup window.
type acceptedViolation struct {
	vtype      string
	prefix     string
	acceptedAt time.Time
}

// Deduplicator decides whether an incoming violation duplicates one accepted
// very recently for the same (user, exam). The window lives in memory,
// best-effort: losing it on restart risks one extra count, not a correctness
// violation.
type Deduplicator struct {
	window time.Duration
	mu     sync.Mutex
	seen   map[string][]acceptedViolation
}

// NewDeduplicator creates a Deduplicator with the given window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		window: window,
		seen:   make(map[string][]acceptedViolation),
	}
}

// Accept reports whether the violation should count. A violation is a
// duplicate when a same-type violation with a matching message prefix was
// accepted inside the window; distinct simultaneous types both count.
// Accepted violations are recorded; rejected ones are not.
func (d *Deduplicator) Accept(userID int, examID uuid.UUID, v model.ViolationEvent, now time.Time) bool {
	key := fmt.Sprintf("%d:%s", userID, examID)
	prefix := messagePrefix(v.Message)

	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.seen[key][:0]
	duplicate := false
	for _, a := range d.seen[key] {
		if now.Sub(a.acceptedAt) > d.window {
			continue
		}
		kept = append(kept, a)
		if a.vtype == v.Type && a.prefix == prefix {
			duplicate = true
		}
	}

	if duplicate {
		d.seen[key] = kept
		return false
	}

	d.seen[key] = append(kept, acceptedViolation{
		vtype:      v.Type,
		prefix:     prefix,
		acceptedAt: now,
	})
	return true
}

func messagePrefix(msg string) string {
	if len(msg) > messagePrefixLen {
		return msg[:messagePrefixLen]
	}
	return msg
}
