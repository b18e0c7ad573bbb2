package breaker

import (
	"fmt"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, calls denied
	StateHalfOpen              // Probing after the cool-down
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ParseState maps the persisted form back to a State.
func ParseState(s string) (State, error) {
	switch s {
	case "CLOSED":
		return StateClosed, nil
	case "OPEN":
		return StateOpen, nil
	case "HALF_OPEN":
		return StateHalfOpen, nil
	default:
		return StateClosed, fmt.Errorf("unknown breaker state %q", s)
	}
}

// Record is the persisted breaker state for one service name.
type Record struct {
	ServiceName      string
	State            State
	FailureCount     int
	FailureThreshold int
	LastFailureAt    *time.Time
	ResetTimeout     time.Duration
}
