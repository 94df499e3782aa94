package sinks

import (
	"context"
	"sync"

	"towerdefense/server/logging"
)

// Memory retains events in process, mostly for tests. A positive
// limit keeps only the newest events.
type Memory struct {
	mu     sync.RWMutex
	limit  int
	events []logging.Event
}

func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (s *Memory) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, cloneForMemory(event))
	if s.limit > 0 && len(s.events) > s.limit {
		s.events = append(s.events[:0], s.events[len(s.events)-s.limit:]...)
	}
	return nil
}

func (s *Memory) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]logging.Event, len(s.events))
	copy(copied, s.events)
	return copied
}

// OfType returns the retained events of type t.
func (s *Memory) OfType(t logging.EventType) []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []logging.Event
	for _, event := range s.events {
		if event.Type == t {
			out = append(out, cloneForMemory(event))
		}
	}
	return out
}

func (s *Memory) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

func (s *Memory) Close(context.Context) error {
	return nil
}

func cloneForMemory(event logging.Event) logging.Event {
	cloned := event
	if len(event.Targets) > 0 {
		cloned.Targets = append([]logging.EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}
