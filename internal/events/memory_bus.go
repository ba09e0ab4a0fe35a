package events

import (
	"context"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 16

// MemoryBus fans events out to in-process subscribers.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[string]map[chan SessionEvent]struct{}
	dropped atomic.Uint64
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan SessionEvent]struct{})}
}

// Publish delivers evt to every subscriber of its session. A subscriber whose
// buffer is full misses the event; watchers re-read state on their poll tick.
func (b *MemoryBus) Publish(_ context.Context, evt SessionEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[evt.SessionID] {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, sessionID string) (<-chan SessionEvent, error) {
	ch := make(chan SessionEvent, subscriberBuffer)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan SessionEvent]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[sessionID], ch)
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// SubscriberCount returns the live subscriber count for a session.
func (b *MemoryBus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// Dropped counts events discarded because a subscriber was not keeping up.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}
