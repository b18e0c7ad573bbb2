package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/breakerd/internal/events"
)

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second

	eventSource = "circuit-breaker"
)

// Defaults are the values a record is created with when a service is seen for
// the first time.
type Defaults struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

type Options struct {
	// Defaults for lazily created records; zero fields fall back to the
	// package defaults.
	Defaults Defaults

	// Overrides replace the defaults for specific service names at creation
	// time only; existing records are not rewritten.
	Overrides map[string]Defaults

	// StrictLocking serializes the read-decide-write cycle per service name.
	// Off by default: the baseline contract tolerates concurrent probes past
	// an open breaker and racy failure counts.
	StrictLocking bool

	// Clock substitutes time.Now, for tests.
	Clock func() time.Time
}

// Engine owns one circuit breaker state machine per service name, backed by
// an injected Store, and reports transitions to an injected event sink.
type Engine struct {
	store     Store
	sink      events.Sink
	defaults  Defaults
	overrides map[string]Defaults
	strict    bool
	now       func() time.Time

	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store, sink events.Sink, opts Options) *Engine {
	defaults := opts.Defaults
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = DefaultFailureThreshold
	}
	if defaults.ResetTimeout <= 0 {
		defaults.ResetTimeout = DefaultResetTimeout
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Engine{
		store:     store,
		sink:      sink,
		defaults:  defaults,
		overrides: opts.Overrides,
		strict:    opts.StrictLocking,
		now:       now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lock returns the unlock function for the service's critical section. In
// the default (non-strict) mode it is a no-op.
func (e *Engine) lock(serviceName string) func() {
	if !e.strict {
		return func() {}
	}

	e.mutex.Lock()
	l, ok := e.locks[serviceName]
	if !ok {
		l = &sync.Mutex{}
		e.locks[serviceName] = l
	}
	e.mutex.Unlock()

	l.Lock()
	return l.Unlock
}

func (e *Engine) defaultsFor(serviceName string) Defaults {
	d, ok := e.overrides[serviceName]
	if !ok {
		return e.defaults
	}
	if d.FailureThreshold <= 0 {
		d.FailureThreshold = e.defaults.FailureThreshold
	}
	if d.ResetTimeout <= 0 {
		d.ResetTimeout = e.defaults.ResetTimeout
	}
	return d
}

// GetOrCreate returns the record for the service, creating and persisting a
// CLOSED default record on first access.
func (e *Engine) GetOrCreate(ctx context.Context, serviceName string) (Record, error) {
	unlock := e.lock(serviceName)
	defer unlock()

	return e.getOrCreate(ctx, serviceName)
}

func (e *Engine) getOrCreate(ctx context.Context, serviceName string) (Record, error) {
	record, err := e.store.Get(ctx, serviceName)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, &StorageError{Op: "get", Service: serviceName, Err: err}
	}

	defaults := e.defaultsFor(serviceName)
	record = Record{
		ServiceName:      serviceName,
		State:            StateClosed,
		FailureThreshold: defaults.FailureThreshold,
		ResetTimeout:     defaults.ResetTimeout,
	}
	if err := e.store.Upsert(ctx, record); err != nil {
		return Record{}, &StorageError{Op: "upsert", Service: serviceName, Err: err}
	}

	return record, nil
}

// CanExecute reports whether a call to the service is currently permitted.
// An elapsed OPEN cool-down flips the record to HALF_OPEN as a side effect of
// the check; the transition is persisted before true is returned.
func (e *Engine) CanExecute(ctx context.Context, serviceName string) (bool, error) {
	unlock := e.lock(serviceName)
	defer unlock()

	record, err := e.getOrCreate(ctx, serviceName)
	if err != nil {
		return false, err
	}

	next, allowed, change := admit(record, e.now())
	if change != nil {
		if err := e.store.Upsert(ctx, next); err != nil {
			return false, &StorageError{Op: "upsert", Service: serviceName, Err: err}
		}
		e.emitTransition(ctx, next, *change)
	}

	return allowed, nil
}

// RecordSuccess applies the success transition for the service. The only
// state change it can produce is HALF_OPEN->CLOSED, which is the only case
// that emits an event.
func (e *Engine) RecordSuccess(ctx context.Context, serviceName string) error {
	unlock := e.lock(serviceName)
	defer unlock()

	record, err := e.getOrCreate(ctx, serviceName)
	if err != nil {
		return err
	}

	next, change := applySuccess(record)
	if err := e.store.Upsert(ctx, next); err != nil {
		return &StorageError{Op: "upsert", Service: serviceName, Err: err}
	}
	if change != nil {
		e.emitTransition(ctx, next, *change)
	}

	return nil
}

// RecordFailure applies the failure transition for the service. It returns
// true while the circuit remains closed, false when this failure tripped it
// open or it was already open.
func (e *Engine) RecordFailure(ctx context.Context, serviceName string) (bool, error) {
	unlock := e.lock(serviceName)
	defer unlock()

	record, err := e.getOrCreate(ctx, serviceName)
	if err != nil {
		return false, err
	}

	next, change := applyFailure(record, e.now())
	if err := e.store.Upsert(ctx, next); err != nil {
		return false, &StorageError{Op: "upsert", Service: serviceName, Err: err}
	}
	if change != nil {
		e.emitTransition(ctx, next, *change)
	}

	return next.State == StateClosed, nil
}

// Reset forces the service's breaker back to CLOSED with a zero failure
// count. This is the one sanctioned way to set state outside the transition
// rules, intended for manual recovery.
func (e *Engine) Reset(ctx context.Context, serviceName string) error {
	unlock := e.lock(serviceName)
	defer unlock()

	record, err := e.getOrCreate(ctx, serviceName)
	if err != nil {
		return err
	}

	prior := record.State
	record.State = StateClosed
	record.FailureCount = 0
	if err := e.store.Upsert(ctx, record); err != nil {
		return &StorageError{Op: "upsert", Service: serviceName, Err: err}
	}

	e.emit(ctx, events.Event{
		Kind:     events.KindReset,
		Severity: events.SeverityInfo,
		Service:  serviceName,
		Message:  fmt.Sprintf("circuit %q manually reset", serviceName),
		From:     prior.String(),
		To:       StateClosed.String(),
	})

	return nil
}

// ResetAll resets every known service and returns how many were reset.
func (e *Engine) ResetAll(ctx context.Context) (int, error) {
	records, err := e.store.ListAll(ctx)
	if err != nil {
		return 0, &StorageError{Op: "list", Service: "*", Err: err}
	}

	for i, record := range records {
		if err := e.Reset(ctx, record.ServiceName); err != nil {
			return i, err
		}
	}

	return len(records), nil
}

// RecordStatus is the per-service slice of a metrics Summary.
type RecordStatus struct {
	ServiceName      string     `json:"service_name"`
	State            string     `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
}

type Summary struct {
	Total   int            `json:"total"`
	ByState map[string]int `json:"by_state"`
	Records []RecordStatus `json:"records"`
}

// Metrics aggregates all known records. Read-only; records are reported in
// service-name order so repeated calls with no intervening mutation yield
// identical output.
func (e *Engine) Metrics(ctx context.Context) (Summary, error) {
	records, err := e.store.ListAll(ctx)
	if err != nil {
		return Summary{}, &StorageError{Op: "list", Service: "*", Err: err}
	}

	summary := Summary{
		Total: len(records),
		ByState: map[string]int{
			StateClosed.String():   0,
			StateOpen.String():     0,
			StateHalfOpen.String(): 0,
		},
		Records: make([]RecordStatus, 0, len(records)),
	}

	for _, record := range records {
		summary.ByState[record.State.String()]++
		summary.Records = append(summary.Records, RecordStatus{
			ServiceName:      record.ServiceName,
			State:            record.State.String(),
			FailureCount:     record.FailureCount,
			FailureThreshold: record.FailureThreshold,
			LastFailureAt:    record.LastFailureAt,
		})
	}

	sort.Slice(summary.Records, func(i, j int) bool {
		return summary.Records[i].ServiceName < summary.Records[j].ServiceName
	})

	return summary, nil
}

func (e *Engine) emitTransition(ctx context.Context, record Record, change transition) {
	e.emit(ctx, events.Event{
		Kind:         events.KindStateChange,
		Severity:     transitionSeverity(change),
		Service:      record.ServiceName,
		Message:      fmt.Sprintf("circuit %q: %s -> %s", record.ServiceName, change.from, change.to),
		From:         change.from.String(),
		To:           change.to.String(),
		FailureCount: record.FailureCount,
	})
}

func (e *Engine) emit(ctx context.Context, event events.Event) {
	if e.sink == nil {
		return
	}
	event.Source = eventSource
	event.Timestamp = e.now()
	e.sink.Emit(ctx, event)
}

func transitionSeverity(change transition) events.Severity {
	switch {
	case change.from == StateClosed && change.to == StateOpen:
		return events.SeverityError
	case change.from == StateHalfOpen && change.to == StateOpen:
		return events.SeverityWarn
	default:
		return events.SeverityInfo
	}
}
