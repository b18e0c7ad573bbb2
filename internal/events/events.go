package events

import (
	"context"
	"time"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Kind string

const (
	KindStateChange Kind = "state_change"
	KindFallback    Kind = "fallback"
	KindReset       Kind = "reset"
)

// Event describes one circuit breaker occurrence. The transition fields
// (From, To, FailureCount) carry a fixed shape instead of an open metadata map
// so sinks can rely on what is present for each kind.
type Event struct {
	Kind         Kind      `json:"kind"`
	Severity     Severity  `json:"severity"`
	Source       string    `json:"source"`
	Service      string    `json:"service"`
	Message      string    `json:"message"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	FailureCount int       `json:"failure_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Sink receives events. Implementations must not block the caller for long;
// the engine emits inline on its hot path.
type Sink interface {
	Emit(ctx context.Context, event Event)
}
