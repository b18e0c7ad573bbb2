// Package cachedstore decorates a breaker.Store with an LRU read cache.
package cachedstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/angeloszaimis/breakerd/internal/breaker"
)

// Store is a read-through LRU cache in front of another breaker.Store,
// cutting round trips to Redis or MySQL on the admission path. Writes go
// through to the inner store and update the cache, so a single process always
// reads its own writes; it does not make a shared backend coherent across
// processes.
type Store struct {
	inner breaker.Store
	cache *lru.Cache[string, breaker.Record]
}

func New(inner breaker.Store, size int) (*Store, error) {
	cache, err := lru.New[string, breaker.Record](size)
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner, cache: cache}, nil
}

func (s *Store) Get(ctx context.Context, serviceName string) (breaker.Record, error) {
	if record, ok := s.cache.Get(serviceName); ok {
		return record, nil
	}

	record, err := s.inner.Get(ctx, serviceName)
	if err != nil {
		return breaker.Record{}, err
	}

	s.cache.Add(serviceName, record)
	return record, nil
}

func (s *Store) Upsert(ctx context.Context, record breaker.Record) error {
	if err := s.inner.Upsert(ctx, record); err != nil {
		return err
	}

	s.cache.Add(record.ServiceName, record)
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]breaker.Record, error) {
	records, err := s.inner.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		s.cache.Add(record.ServiceName, record)
	}
	return records, nil
}
