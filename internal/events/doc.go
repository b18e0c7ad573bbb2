// Package events defines the circuit breaker event model and sinks that
// consume it.
//
// The breaker engine emits one Event per state transition, fallback use, and
// manual reset. Each event carries a closed, typed shape (service, prior
// state, new state, failure count) rather than an untyped metadata bag.
//
// Three sinks are provided:
//
//   - SlogSink logs events through a structured logger at the severity the
//     engine assigned (CLOSED->OPEN is an error, HALF_OPEN->OPEN a warning,
//     everything else informational).
//   - Collector aggregates events asynchronously via a buffered channel,
//     keeping per-severity and per-kind counters plus a bounded ring of
//     recent events, and exposes them as a JSON snapshot over HTTP. It can
//     tee to an inner sink.
//   - MemorySink records events for assertions in tests.
//
// Example usage:
//
//	collector := events.NewCollector(1000, 256, events.NewSlogSink(log), log)
//	collector.Start(ctx)
//	engine := breaker.NewEngine(store, collector, breaker.Options{})
package events
