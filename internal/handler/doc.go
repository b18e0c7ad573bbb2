// Package handler exposes the HTTP surface: a pass-through proxy that runs
// every upstream call through the circuit breaker engine, plus admin
// endpoints for breaker metrics and manual resets.
package handler
