// Package redistore provides a Redis-backed breaker.Store.
package redistore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/breakerd/internal/breaker"
)

const keyPrefix = "breaker:record:"

// Store persists breaker records as JSON values in Redis, one key per
// service name under a common prefix. Records have no TTL; a breaker record
// lives until an administrator deletes it.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// NewClient creates a Redis client with pool settings suitable for the small,
// hot working set of breaker records.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            addr,
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     200 * time.Millisecond,
		WriteTimeout:    200 * time.Millisecond,
		ConnMaxIdleTime: 5 * time.Minute,
	})
}

type payload struct {
	ServiceName      string     `json:"service_name"`
	State            string     `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
	ResetTimeoutMs   int64      `json:"reset_timeout_ms"`
}

func encode(record breaker.Record) ([]byte, error) {
	return json.Marshal(payload{
		ServiceName:      record.ServiceName,
		State:            record.State.String(),
		FailureCount:     record.FailureCount,
		FailureThreshold: record.FailureThreshold,
		LastFailureAt:    record.LastFailureAt,
		ResetTimeoutMs:   record.ResetTimeout.Milliseconds(),
	})
}

func decode(data []byte) (breaker.Record, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return breaker.Record{}, fmt.Errorf("failed to decode breaker record: %w", err)
	}

	state, err := breaker.ParseState(p.State)
	if err != nil {
		return breaker.Record{}, err
	}

	return breaker.Record{
		ServiceName:      p.ServiceName,
		State:            state,
		FailureCount:     p.FailureCount,
		FailureThreshold: p.FailureThreshold,
		LastFailureAt:    p.LastFailureAt,
		ResetTimeout:     time.Duration(p.ResetTimeoutMs) * time.Millisecond,
	}, nil
}

func (s *Store) Get(ctx context.Context, serviceName string) (breaker.Record, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+serviceName).Bytes()
	if err == redis.Nil {
		return breaker.Record{}, fmt.Errorf("%w: %s", breaker.ErrNotFound, serviceName)
	}
	if err != nil {
		return breaker.Record{}, fmt.Errorf("failed to get breaker record: %w", err)
	}

	return decode(data)
}

func (s *Store) Upsert(ctx context.Context, record breaker.Record) error {
	data, err := encode(record)
	if err != nil {
		return fmt.Errorf("failed to encode breaker record: %w", err)
	}

	if err := s.rdb.Set(ctx, keyPrefix+record.ServiceName, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store breaker record: %w", err)
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]breaker.Record, error) {
	var records []breaker.Record

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan breaker records: %w", err)
		}

		for _, key := range keys {
			data, err := s.rdb.Get(ctx, key).Bytes()
			if err == redis.Nil {
				// Deleted between scan and get.
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get breaker record: %w", err)
			}

			record, err := decode(data)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}

		cursor = next
		if cursor == 0 {
			return records, nil
		}
	}
}
