package breaker

import "time"

// transition describes a state change produced by one of the pure decision
// functions below. The functions never touch storage or emit events; the
// engine persists and reports what they decide.
type transition struct {
	from State
	to   State
}

// applySuccess applies the success rules to a record.
//
// CLOSED: the consecutive-failure counter resets, no transition. HALF_OPEN:
// the probe succeeded, the circuit closes and the counter resets. OPEN: a
// success cannot legitimately be observed here (admission was denied), so the
// record is left untouched.
func applySuccess(record Record) (Record, *transition) {
	switch record.State {
	case StateClosed:
		record.FailureCount = 0
		return record, nil
	case StateHalfOpen:
		record.State = StateClosed
		record.FailureCount = 0
		return record, &transition{from: StateHalfOpen, to: StateClosed}
	default:
		return record, nil
	}
}

// applyFailure applies the failure rules to a record at the given time.
// Every failure increments the counter and stamps LastFailureAt. CLOSED trips
// to OPEN once the counter reaches the threshold; HALF_OPEN trips straight
// back to OPEN.
func applyFailure(record Record, now time.Time) (Record, *transition) {
	record.FailureCount++
	record.LastFailureAt = &now

	switch record.State {
	case StateClosed:
		if record.FailureCount >= record.FailureThreshold {
			record.State = StateOpen
			return record, &transition{from: StateClosed, to: StateOpen}
		}
		return record, nil
	case StateHalfOpen:
		record.State = StateOpen
		return record, &transition{from: StateHalfOpen, to: StateOpen}
	default:
		return record, nil
	}
}

// admit decides whether a call may proceed. CLOSED and HALF_OPEN always
// admit. OPEN admits once the cool-down has elapsed since the last failure,
// transitioning the record to HALF_OPEN as a side effect of the check.
func admit(record Record, now time.Time) (Record, bool, *transition) {
	switch record.State {
	case StateOpen:
		// A missing failure timestamp is only reachable through hand-edited
		// storage; treat it as an expired cool-down so the breaker can recover.
		if record.LastFailureAt == nil || now.Sub(*record.LastFailureAt) >= record.ResetTimeout {
			record.State = StateHalfOpen
			return record, true, &transition{from: StateOpen, to: StateHalfOpen}
		}
		return record, false, nil
	default:
		return record, true, nil
	}
}
