package breaker

import "fmt"

// StorageError wraps a Store failure. The engine never retries storage
// access; the underlying error is reachable through errors.Unwrap.
type StorageError struct {
	Op      string
	Service string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("breaker storage %s for %q: %v", e.Op, e.Service, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CircuitOpenError is returned by guarded execution when the breaker denies
// the call and no fallback was supplied. It is distinguishable from a genuine
// operation failure so callers can map it differently (e.g. HTTP 503).
type CircuitOpenError struct {
	Service string
	State   State
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for service %q (state %s)", e.Service, e.State)
}
