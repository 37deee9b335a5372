package audit

import (
	"context"
	"sync"
)

// MemorySink keeps events in memory for tests and kafka-less deployments.
type MemorySink struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make(map[string][]Event)}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.DID] = append(s.events[event.DID], event)
	return nil
}

// ListByDID returns the trail for one DID in append order.
func (s *MemorySink) ListByDID(_ context.Context, did string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[did]...), nil
}
