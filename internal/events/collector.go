package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Collector is an asynchronous event pipeline. Emit sends on a buffered
// channel with non-blocking semantics so the breaker's call path never stalls
// on a slow consumer; a dedicated goroutine aggregates counters and keeps a
// bounded history of recent events. Events are optionally teed to an inner
// sink (typically a SlogSink) from the collector goroutine.
type Collector struct {
	eventCh     chan Event
	inner       Sink
	logger      *slog.Logger
	historySize int

	mutex      sync.RWMutex
	total      int64
	dropped    int64
	bySeverity map[Severity]int64
	byKind     map[Kind]int64
	recent     []Event
	startTime  time.Time
}

type Snapshot struct {
	Total      int64              `json:"total"`
	Dropped    int64              `json:"dropped"`
	Uptime     time.Duration      `json:"uptime"`
	BySeverity map[Severity]int64 `json:"by_severity"`
	ByKind     map[Kind]int64     `json:"by_kind"`
	Recent     []Event            `json:"recent"`
}

func NewCollector(bufferSize, historySize int, inner Sink, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:     make(chan Event, bufferSize),
		inner:       inner,
		logger:      logger,
		historySize: historySize,
		bySeverity:  make(map[Severity]int64),
		byKind:      make(map[Kind]int64),
		startTime:   time.Now(),
	}
}

// Emit implements Sink. Events are dropped rather than blocking when the
// buffer is full; drops are counted and visible in the snapshot.
func (c *Collector) Emit(_ context.Context, event Event) {
	select {
	case c.eventCh <- event:
	default:
		c.mutex.Lock()
		c.dropped++
		c.mutex.Unlock()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Event collector started")
	defer c.logger.Info("Event collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.process(ctx, event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain(ctx)
			return
		}
	}
}

func (c *Collector) process(ctx context.Context, event Event) {
	c.mutex.Lock()
	c.total++
	c.bySeverity[event.Severity]++
	c.byKind[event.Kind]++
	c.recent = append(c.recent, event)
	if len(c.recent) > c.historySize {
		c.recent = c.recent[1:]
	}
	c.mutex.Unlock()

	if c.inner != nil {
		c.inner.Emit(ctx, event)
	}
}

func (c *Collector) drain(ctx context.Context) {
	for {
		select {
		case event := <-c.eventCh:
			c.process(ctx, event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	snap := Snapshot{
		Total:      c.total,
		Dropped:    c.dropped,
		Uptime:     time.Since(c.startTime),
		BySeverity: make(map[Severity]int64, len(c.bySeverity)),
		ByKind:     make(map[Kind]int64, len(c.byKind)),
		Recent:     make([]Event, len(c.recent)),
	}
	for severity, n := range c.bySeverity {
		snap.BySeverity[severity] = n
	}
	for kind, n := range c.byKind {
		snap.ByKind[kind] = n
	}
	copy(snap.Recent, c.recent)

	return snap
}
