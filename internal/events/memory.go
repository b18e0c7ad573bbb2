package events

import (
	"context"
	"sync"
)

// MemorySink records every emitted event. Intended for tests.
type MemorySink struct {
	mutex  sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, event Event) {
	s.mutex.Lock()
	s.events = append(s.events, event)
	s.mutex.Unlock()
}

func (s *MemorySink) Events() []Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemorySink) Reset() {
	s.mutex.Lock()
	s.events = nil
	s.mutex.Unlock()
}
