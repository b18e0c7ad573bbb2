package prober

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/breakerd/internal/breaker"
	"github.com/angeloszaimis/breakerd/internal/upstream"
)

// Probe periodically sends HTTP GET requests to the target's /health
// endpoint and records the outcome through the breaker engine. The engine
// still evaluates OPEN cool-downs lazily; the prober is just another caller
// feeding it successes and failures.
func Probe(
	ctx context.Context,
	engine *breaker.Engine,
	target *upstream.Target,
	interval time.Duration,
	logger *slog.Logger,
) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Prober stopped",
				slog.String("service", target.Name()))
			return

		case <-ticker.C:
			// Respect the breaker's own admission check; probing an open
			// circuit before its cool-down elapsed would stamp fresh failures
			// and keep it open forever.
			allowed, err := engine.CanExecute(ctx, target.Name())
			if err != nil {
				logger.Error("Failed to check breaker admission",
					slog.String("service", target.Name()), slog.Any("err", err))
				continue
			}
			if !allowed {
				continue
			}

			healthURL := target.URL().ResolveReference(&url.URL{Path: "/health"})

			req, err := http.NewRequestWithContext(
				ctx, http.MethodGet, healthURL.String(), nil)
			if err != nil {
				continue
			}

			res, err := client.Do(req)
			healthy := err == nil && res.StatusCode == http.StatusOK
			if res != nil {
				res.Body.Close()
			}

			if healthy {
				if err := engine.RecordSuccess(ctx, target.Name()); err != nil {
					logger.Error("Failed to record probe success",
						slog.String("service", target.Name()), slog.Any("err", err))
				}
				continue
			}

			permitted, rfErr := engine.RecordFailure(ctx, target.Name())
			if rfErr != nil {
				logger.Error("Failed to record probe failure",
					slog.String("service", target.Name()), slog.Any("err", rfErr))
				continue
			}
			if !permitted {
				logger.Warn("Service circuit is open",
					slog.String("service", target.Name()))
			}
		}
	}
}
