// pkg/events/memory.go
package events

import (
	"context"
	"sync"
)

// MemorySink collects events in memory. Used by tests and the dev profile.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// Events returns a copy of the collected events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType filters the collected events by type.
func (s *MemorySink) ByType(eventType string) []Event {
	var out []Event
	for _, evt := range s.Events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func (s *MemorySink) Close() error {
	return nil
}
