// Package memstore provides an in-memory breaker.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/angeloszaimis/breakerd/internal/breaker"
)

// Store keeps breaker records in a process-local map. It is the default
// backend and the fixture the engine tests run against.
type Store struct {
	mutex   sync.RWMutex
	records map[string]breaker.Record
}

func New() *Store {
	return &Store{records: make(map[string]breaker.Record)}
}

func (s *Store) Get(_ context.Context, serviceName string) (breaker.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, ok := s.records[serviceName]
	if !ok {
		return breaker.Record{}, fmt.Errorf("%w: %s", breaker.ErrNotFound, serviceName)
	}
	return record, nil
}

func (s *Store) Upsert(_ context.Context, record breaker.Record) error {
	s.mutex.Lock()
	s.records[record.ServiceName] = record
	s.mutex.Unlock()
	return nil
}

func (s *Store) ListAll(_ context.Context) ([]breaker.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	records := make([]breaker.Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	return records, nil
}
