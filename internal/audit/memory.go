package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemorySink keeps events in process. Used by the memory storage driver and tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ForSubject returns the events recorded for one tenant's appointment, oldest first.
func (s *MemorySink) ForSubject(tenantID, subjectID uuid.UUID) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.TenantID == tenantID && ev.SubjectID == subjectID {
			out = append(out, ev)
		}
	}
	return out
}
