// Package breaker implements a persisted circuit breaker engine keyed by
// service name.
//
// Each service has one record with three states:
//
//   - CLOSED: normal operation, calls permitted, consecutive failures
//     accumulate toward the threshold
//   - OPEN: tripped, calls denied until the cool-down elapses
//   - HALF_OPEN: probation after the cool-down; the next outcome decides
//     CLOSED vs. OPEN
//
// Records live in an injected Store and transitions are reported to an
// injected event sink, so the engine itself holds no global state and runs no
// background timers. The OPEN->HALF_OPEN transition is evaluated lazily when
// admission is checked, never by a scheduler.
//
// Usage:
//
//	engine := breaker.NewEngine(store, sink, breaker.Options{})
//	result, err := breaker.ExecuteWithFallback(ctx, engine, "payment-service",
//	    func(ctx context.Context) (string, error) { return charge(ctx) },
//	    func(ctx context.Context) (string, error) { return "queued", nil },
//	)
//
// By default the read-decide-write cycle is not serialized: concurrent
// callers may both be admitted as probes through a half-open breaker, and
// concurrent failures may race on the counter. Options.StrictLocking trades
// that for a per-service critical section.
package breaker
