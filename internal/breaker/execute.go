package breaker

import (
	"context"
	"fmt"

	"github.com/angeloszaimis/breakerd/internal/events"
)

// Operation is a guarded unit of work. Timeouts and cancellation belong to
// the caller's context; the engine imposes none of its own.
type Operation[T any] func(ctx context.Context) (T, error)

// Execute runs op under the service's breaker. A denied call fails with
// *CircuitOpenError; an operation failure is recorded and then propagated
// unchanged.
func Execute[T any](ctx context.Context, e *Engine, serviceName string, op Operation[T]) (T, error) {
	return guarded(ctx, e, serviceName, op, nil)
}

// ExecuteWithFallback runs op under the service's breaker, substituting
// fallback when the call is denied or op fails. Breaker bookkeeping happens
// before the fallback runs, and the fallback's outcome (success or its own
// error) is what the caller sees.
func ExecuteWithFallback[T any](ctx context.Context, e *Engine, serviceName string, op, fallback Operation[T]) (T, error) {
	return guarded(ctx, e, serviceName, op, fallback)
}

func guarded[T any](ctx context.Context, e *Engine, serviceName string, op, fallback Operation[T]) (T, error) {
	var zero T

	allowed, err := e.CanExecute(ctx, serviceName)
	if err != nil {
		return zero, err
	}

	if !allowed {
		if fallback == nil {
			return zero, &CircuitOpenError{Service: serviceName, State: StateOpen}
		}
		e.emit(ctx, events.Event{
			Kind:     events.KindFallback,
			Severity: events.SeverityInfo,
			Service:  serviceName,
			Message:  fmt.Sprintf("circuit %q open, call denied, using fallback", serviceName),
		})
		return fallback(ctx)
	}

	result, opErr := op(ctx)
	if opErr == nil {
		if err := e.RecordSuccess(ctx, serviceName); err != nil {
			return zero, err
		}
		return result, nil
	}

	// Bookkeeping always happens before the failure is surfaced.
	if _, err := e.RecordFailure(ctx, serviceName); err != nil {
		return zero, err
	}

	if fallback == nil {
		return zero, opErr
	}

	e.emit(ctx, events.Event{
		Kind:     events.KindFallback,
		Severity: events.SeverityWarn,
		Service:  serviceName,
		Message:  fmt.Sprintf("operation against %q failed, using fallback: %v", serviceName, opErr),
	})
	return fallback(ctx)
}
