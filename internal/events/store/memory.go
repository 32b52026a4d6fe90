package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"attest/internal/events"
	id "attest/pkg/domain"
)

// InMemory keeps the outbox in process memory. It backs unit tests and local
// development; it has no transactional coupling with other stores.
type InMemory struct {
	mu        sync.RWMutex
	entries   []events.Event
	published map[uuid.UUID]bool
}

func NewInMemory() *InMemory {
	return &InMemory{published: make(map[uuid.UUID]bool)}
}

func (s *InMemory) Append(_ context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cloneEvent(event))
	return nil
}

func (s *InMemory) ListPending(_ context.Context, limit int) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []events.Event
	for _, entry := range s.entries {
		if s.published[entry.ID] {
			continue
		}
		out = append(out, cloneEvent(entry))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) MarkPublished(_ context.Context, eventIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, eventID := range eventIDs {
		s.published[eventID] = true
	}
	return nil
}

func (s *InMemory) ListByUser(_ context.Context, userID id.UserID) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []events.Event
	for _, entry := range s.entries {
		if entry.UserID == userID {
			out = append(out, cloneEvent(entry))
		}
	}
	return out, nil
}

func cloneEvent(event events.Event) events.Event {
	cp := event
	if event.Fields != nil {
		cp.Fields = make(map[string]string, len(event.Fields))
		for k, v := range event.Fields {
			cp.Fields[k] = v
		}
	}
	return cp
}
