package breaker

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get when no record exists for the service.
var ErrNotFound = errors.New("breaker record not found")

// Store is the durable home of breaker records, keyed by service name.
// Implementations must return an error wrapping ErrNotFound from Get when the
// record is absent; the engine creates defaults lazily on top of that.
type Store interface {
	Get(ctx context.Context, serviceName string) (Record, error)
	Upsert(ctx context.Context, record Record) error
	ListAll(ctx context.Context) ([]Record, error)
}
