package broadcast

import (
	"context"
	"sync"
)

// MemoryBroadcaster is an in-process Broadcaster used in tests and
// single-node dev runs.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	events []SessionEvent
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{}
}

func (b *MemoryBroadcaster) Publish(_ context.Context, evt SessionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

// Events returns a copy of everything published so far.
func (b *MemoryBroadcaster) Events() []SessionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SessionEvent, len(b.events))
	copy(out, b.events)
	return out
}

func (b *MemoryBroadcaster) Close() error { return nil }
