package breaker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/breakerd/internal/breaker"
	"github.com/angeloszaimis/breakerd/internal/events"
	"github.com/angeloszaimis/breakerd/internal/store/memstore"
)

// failingStore simulates an unavailable backend.
type failingStore struct {
	err error
}

func (s *failingStore) Get(context.Context, string) (breaker.Record, error) {
	return breaker.Record{}, s.err
}

func (s *failingStore) Upsert(context.Context, breaker.Record) error {
	return s.err
}

func (s *failingStore) ListAll(context.Context) ([]breaker.Record, error) {
	return nil, s.err
}

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		store  *memstore.Store
		sink   *events.MemorySink
		engine *breaker.Engine
		now    time.Time
	)

	newEngine := func(opts breaker.Options) *breaker.Engine {
		opts.Clock = func() time.Time { return now }
		return breaker.NewEngine(store, sink, opts)
	}

	advance := func(d time.Duration) {
		now = now.Add(d)
	}

	mustState := func(service string) breaker.State {
		record, err := store.Get(ctx, service)
		Expect(err).NotTo(HaveOccurred())
		return record.State
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = memstore.New()
		sink = events.NewMemorySink()
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		engine = newEngine(breaker.Options{})
	})

	Describe("GetOrCreate", func() {
		It("should create a closed record with package defaults", func() {
			record, err := engine.GetOrCreate(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.ServiceName).To(Equal("payment-service"))
			Expect(record.State).To(Equal(breaker.StateClosed))
			Expect(record.FailureCount).To(Equal(0))
			Expect(record.FailureThreshold).To(Equal(breaker.DefaultFailureThreshold))
			Expect(record.ResetTimeout).To(Equal(breaker.DefaultResetTimeout))
			Expect(record.LastFailureAt).To(BeNil())
		})

		It("should persist the created record", func() {
			_, err := engine.GetOrCreate(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())

			stored, err := store.Get(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ServiceName).To(Equal("payment-service"))
		})

		It("should return the existing record on later access", func() {
			_, err := engine.GetOrCreate(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.RecordFailure(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())

			record, err := engine.GetOrCreate(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.FailureCount).To(Equal(1))
		})

		It("should apply per-service overrides at creation time", func() {
			engine = newEngine(breaker.Options{
				Overrides: map[string]breaker.Defaults{
					"payment-service": {FailureThreshold: 3, ResetTimeout: time.Second},
				},
			})

			record, err := engine.GetOrCreate(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.FailureThreshold).To(Equal(3))
			Expect(record.ResetTimeout).To(Equal(time.Second))

			other, err := engine.GetOrCreate(ctx, "other-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(other.FailureThreshold).To(Equal(breaker.DefaultFailureThreshold))
		})

		It("should fill partial overrides from the defaults", func() {
			engine = newEngine(breaker.Options{
				Overrides: map[string]breaker.Defaults{
					"payment-service": {FailureThreshold: 3},
				},
			})

			record, err := engine.GetOrCreate(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.FailureThreshold).To(Equal(3))
			Expect(record.ResetTimeout).To(Equal(breaker.DefaultResetTimeout))
		})
	})

	Describe("failure accumulation", func() {
		BeforeEach(func() {
			engine = newEngine(breaker.Options{
				Defaults: breaker.Defaults{FailureThreshold: 3, ResetTimeout: time.Second},
			})
		})

		It("should stay closed below the threshold", func() {
			for i := 0; i < 2; i++ {
				permitted, err := engine.RecordFailure(ctx, "payment-service")
				Expect(err).NotTo(HaveOccurred())
				Expect(permitted).To(BeTrue())
			}
			Expect(mustState("payment-service")).To(Equal(breaker.StateClosed))
			Expect(sink.Events()).To(BeEmpty())
		})

		It("should trip open at exactly the threshold", func() {
			engine.RecordFailure(ctx, "payment-service")
			engine.RecordFailure(ctx, "payment-service")

			permitted, err := engine.RecordFailure(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(permitted).To(BeFalse())
			Expect(mustState("payment-service")).To(Equal(breaker.StateOpen))
		})

		It("should emit an error-severity event when tripping open", func() {
			for i := 0; i < 3; i++ {
				engine.RecordFailure(ctx, "payment-service")
			}

			emitted := sink.Events()
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].Kind).To(Equal(events.KindStateChange))
			Expect(emitted[0].Severity).To(Equal(events.SeverityError))
			Expect(emitted[0].Service).To(Equal("payment-service"))
			Expect(emitted[0].From).To(Equal("CLOSED"))
			Expect(emitted[0].To).To(Equal("OPEN"))
			Expect(emitted[0].FailureCount).To(Equal(3))
		})

		It("should stamp the failure time on every failure", func() {
			engine.RecordFailure(ctx, "payment-service")

			record, err := store.Get(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.LastFailureAt).NotTo(BeNil())
			Expect(*record.LastFailureAt).To(Equal(now))
		})
	})

	Describe("success while closed", func() {
		It("should reset the failure count without emitting an event", func() {
			engine.RecordFailure(ctx, "payment-service")
			engine.RecordFailure(ctx, "payment-service")

			Expect(engine.RecordSuccess(ctx, "payment-service")).To(Succeed())

			record, err := store.Get(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.State).To(Equal(breaker.StateClosed))
			Expect(record.FailureCount).To(Equal(0))
			Expect(sink.Events()).To(BeEmpty())
		})
	})

	Describe("CanExecute", func() {
		BeforeEach(func() {
			engine = newEngine(breaker.Options{
				Defaults: breaker.Defaults{FailureThreshold: 3, ResetTimeout: time.Second},
			})
			for i := 0; i < 3; i++ {
				engine.RecordFailure(ctx, "payment-service")
			}
			Expect(mustState("payment-service")).To(Equal(breaker.StateOpen))
		})

		It("should permit calls for an unknown service", func() {
			allowed, err := engine.CanExecute(ctx, "fresh-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeTrue())
		})

		It("should deny while the cool-down is running", func() {
			advance(999 * time.Millisecond)

			allowed, err := engine.CanExecute(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeFalse())
			Expect(mustState("payment-service")).To(Equal(breaker.StateOpen))
		})

		It("should admit and flip to half-open once the cool-down elapses", func() {
			advance(time.Second)

			allowed, err := engine.CanExecute(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeTrue())
			Expect(mustState("payment-service")).To(Equal(breaker.StateHalfOpen))
		})

		It("should persist the half-open transition and emit an event", func() {
			sink.Reset()
			advance(time.Second)

			_, err := engine.CanExecute(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())

			emitted := sink.Events()
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].From).To(Equal("OPEN"))
			Expect(emitted[0].To).To(Equal("HALF_OPEN"))
			Expect(emitted[0].Severity).To(Equal(events.SeverityInfo))
		})
	})

	Describe("half-open outcomes", func() {
		BeforeEach(func() {
			engine = newEngine(breaker.Options{
				Defaults: breaker.Defaults{FailureThreshold: 3, ResetTimeout: time.Second},
			})
			for i := 0; i < 3; i++ {
				engine.RecordFailure(ctx, "payment-service")
			}
			advance(time.Second)
			allowed, err := engine.CanExecute(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeTrue())
			sink.Reset()
		})

		It("should close on a successful probe", func() {
			Expect(engine.RecordSuccess(ctx, "payment-service")).To(Succeed())

			record, err := store.Get(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.State).To(Equal(breaker.StateClosed))
			Expect(record.FailureCount).To(Equal(0))

			emitted := sink.Events()
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].From).To(Equal("HALF_OPEN"))
			Expect(emitted[0].To).To(Equal("CLOSED"))
			Expect(emitted[0].Severity).To(Equal(events.SeverityInfo))
		})

		It("should reopen on a failed probe with warn severity", func() {
			failedAt := now
			permitted, err := engine.RecordFailure(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(permitted).To(BeFalse())

			record, err := store.Get(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.State).To(Equal(breaker.StateOpen))
			Expect(record.FailureCount).To(Equal(4))
			Expect(*record.LastFailureAt).To(Equal(failedAt))

			emitted := sink.Events()
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].From).To(Equal("HALF_OPEN"))
			Expect(emitted[0].To).To(Equal("OPEN"))
			Expect(emitted[0].Severity).To(Equal(events.SeverityWarn))
		})
	})

	Describe("Reset", func() {
		It("should force a tripped breaker back to closed", func() {
			engine = newEngine(breaker.Options{
				Defaults: breaker.Defaults{FailureThreshold: 2, ResetTimeout: time.Minute},
			})
			engine.RecordFailure(ctx, "payment-service")
			engine.RecordFailure(ctx, "payment-service")
			Expect(mustState("payment-service")).To(Equal(breaker.StateOpen))
			sink.Reset()

			Expect(engine.Reset(ctx, "payment-service")).To(Succeed())

			record, err := store.Get(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.State).To(Equal(breaker.StateClosed))
			Expect(record.FailureCount).To(Equal(0))

			emitted := sink.Events()
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].Kind).To(Equal(events.KindReset))
			Expect(emitted[0].Severity).To(Equal(events.SeverityInfo))
		})

		It("should be a no-op transition on an already closed breaker", func() {
			engine.GetOrCreate(ctx, "payment-service")
			Expect(engine.Reset(ctx, "payment-service")).To(Succeed())
			Expect(mustState("payment-service")).To(Equal(breaker.StateClosed))
		})
	})

	Describe("ResetAll", func() {
		It("should reset every known service", func() {
			engine = newEngine(breaker.Options{
				Defaults: breaker.Defaults{FailureThreshold: 1, ResetTimeout: time.Minute},
			})
			engine.RecordFailure(ctx, "payment-service")
			engine.RecordFailure(ctx, "external-api")
			engine.GetOrCreate(ctx, "healthy-service")

			n, err := engine.ResetAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))

			for _, service := range []string{"payment-service", "external-api", "healthy-service"} {
				Expect(mustState(service)).To(Equal(breaker.StateClosed))
			}
		})
	})

	Describe("Metrics", func() {
		BeforeEach(func() {
			engine = newEngine(breaker.Options{
				Defaults: breaker.Defaults{FailureThreshold: 2, ResetTimeout: time.Minute},
			})
			engine.GetOrCreate(ctx, "healthy-service")
			engine.RecordFailure(ctx, "flaky-service")
			engine.RecordFailure(ctx, "broken-service")
			engine.RecordFailure(ctx, "broken-service")
		})

		It("should aggregate counts by state", func() {
			summary, err := engine.Metrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Total).To(Equal(3))
			Expect(summary.ByState["CLOSED"]).To(Equal(2))
			Expect(summary.ByState["OPEN"]).To(Equal(1))
			Expect(summary.ByState["HALF_OPEN"]).To(Equal(0))
		})

		It("should report per-record detail in service-name order", func() {
			summary, err := engine.Metrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Records).To(HaveLen(3))
			Expect(summary.Records[0].ServiceName).To(Equal("broken-service"))
			Expect(summary.Records[0].State).To(Equal("OPEN"))
			Expect(summary.Records[0].FailureCount).To(Equal(2))
			Expect(summary.Records[1].ServiceName).To(Equal("flaky-service"))
			Expect(summary.Records[2].ServiceName).To(Equal("healthy-service"))
		})

		It("should be idempotent without intervening mutation", func() {
			first, err := engine.Metrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := engine.Metrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})
	})

	Describe("storage failures", func() {
		var boom error

		BeforeEach(func() {
			boom = errors.New("connection refused")
			engine = breaker.NewEngine(&failingStore{err: boom}, sink, breaker.Options{})
		})

		It("should surface a StorageError from CanExecute", func() {
			_, err := engine.CanExecute(ctx, "payment-service")
			var storageErr *breaker.StorageError
			Expect(errors.As(err, &storageErr)).To(BeTrue())
			Expect(errors.Is(err, boom)).To(BeTrue())
		})

		It("should surface a StorageError from RecordFailure", func() {
			_, err := engine.RecordFailure(ctx, "payment-service")
			var storageErr *breaker.StorageError
			Expect(errors.As(err, &storageErr)).To(BeTrue())
		})

		It("should surface a StorageError from Metrics", func() {
			_, err := engine.Metrics(ctx)
			var storageErr *breaker.StorageError
			Expect(errors.As(err, &storageErr)).To(BeTrue())
		})
	})

	Describe("strict locking", func() {
		It("should keep operations working with per-service serialization on", func() {
			engine = newEngine(breaker.Options{
				Defaults:      breaker.Defaults{FailureThreshold: 2, ResetTimeout: time.Second},
				StrictLocking: true,
			})

			engine.RecordFailure(ctx, "payment-service")
			engine.RecordFailure(ctx, "payment-service")
			Expect(mustState("payment-service")).To(Equal(breaker.StateOpen))

			advance(time.Second)
			allowed, err := engine.CanExecute(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeTrue())
			Expect(engine.RecordSuccess(ctx, "payment-service")).To(Succeed())
			Expect(mustState("payment-service")).To(Equal(breaker.StateClosed))
		})
	})

	Describe("full recovery cycle", func() {
		It("should walk CLOSED -> OPEN -> HALF_OPEN -> OPEN -> HALF_OPEN -> CLOSED", func() {
			engine = newEngine(breaker.Options{
				Overrides: map[string]breaker.Defaults{
					"payment-service": {FailureThreshold: 3, ResetTimeout: time.Second},
				},
			})

			for i := 0; i < 3; i++ {
				engine.RecordFailure(ctx, "payment-service")
			}
			record, _ := store.Get(ctx, "payment-service")
			Expect(record.State).To(Equal(breaker.StateOpen))
			Expect(record.FailureCount).To(Equal(3))

			allowed, err := engine.CanExecute(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeFalse())

			advance(time.Second)
			allowed, err = engine.CanExecute(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeTrue())
			Expect(mustState("payment-service")).To(Equal(breaker.StateHalfOpen))

			permitted, err := engine.RecordFailure(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(permitted).To(BeFalse())
			record, _ = store.Get(ctx, "payment-service")
			Expect(record.State).To(Equal(breaker.StateOpen))
			Expect(record.FailureCount).To(Equal(4))

			advance(time.Second)
			allowed, err = engine.CanExecute(ctx, "payment-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeTrue())
			Expect(mustState("payment-service")).To(Equal(breaker.StateHalfOpen))

			Expect(engine.RecordSuccess(ctx, "payment-service")).To(Succeed())
			record, _ = store.Get(ctx, "payment-service")
			Expect(record.State).To(Equal(breaker.StateClosed))
			Expect(record.FailureCount).To(Equal(0))
		})
	})
})
