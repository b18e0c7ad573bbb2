// Package prober runs optional background health probes against configured
// upstreams, recording each outcome through the circuit breaker engine.
package prober
