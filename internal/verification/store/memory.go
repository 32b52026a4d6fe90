package store

import (
	"context"
	"sync"

	"attest/internal/verification/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

// InMemory is a map-backed RecordStore for unit tests and local development.
// The write lock makes CompareAndSwapStatus atomic, which is what the
// no-double-consumption guarantee rests on here.
type InMemory struct {
	mu      sync.RWMutex
	records map[id.RecordID]*models.Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.RecordID]*models.Record)}
}

func (s *InMemory) Create(_ context.Context, record *models.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrConflict
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *InMemory) Get(_ context.Context, recordID id.RecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemory) CompareAndSwapStatus(_ context.Context, recordID id.RecordID, from, to models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if record.Status == to {
		return sentinel.ErrAlreadyUsed
	}
	if record.Status != from || !models.CanTransition(from, to) {
		return sentinel.ErrInvalidState
	}
	record.Status = to
	return nil
}

func (s *InMemory) IncrementAttempts(_ context.Context, recordID id.RecordID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	record.AttemptCount++
	return record.AttemptCount, nil
}
