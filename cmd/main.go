package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/angeloszaimis/breakerd/config"
	"github.com/angeloszaimis/breakerd/internal/breaker"
	"github.com/angeloszaimis/breakerd/internal/events"
	"github.com/angeloszaimis/breakerd/internal/handler"
	"github.com/angeloszaimis/breakerd/internal/httpserver"
	"github.com/angeloszaimis/breakerd/internal/prober"
	"github.com/angeloszaimis/breakerd/internal/store/cachedstore"
	"github.com/angeloszaimis/breakerd/internal/store/gormstore"
	"github.com/angeloszaimis/breakerd/internal/store/memstore"
	"github.com/angeloszaimis/breakerd/internal/store/redistore"
	"github.com/angeloszaimis/breakerd/internal/upstream"
	"github.com/angeloszaimis/breakerd/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, cleanup, err := buildStore(cfg, log)
	if err != nil {
		log.Error("Failed to build store", slog.Any("err", err))
		os.Exit(1)
	}
	defer cleanup()

	collector := events.NewCollector(cfg.Events.BufferSize, cfg.Events.HistorySize,
		events.NewSlogSink(log), log)
	collector.Start(ctx)

	opts, err := buildEngineOptions(cfg)
	if err != nil {
		log.Error("Failed to build breaker options", slog.Any("err", err))
		os.Exit(1)
	}

	engine := breaker.NewEngine(store, collector, opts)

	upstreams, err := initializeUpstreams(ctx, cfg, engine, log)
	if err != nil {
		log.Error("Failed to initialize upstreams", slog.Any("err", err))
		os.Exit(1)
	}

	breakerHandler := handler.New(log, engine, upstreams)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(breakerHandler, collector))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("breakerd listening",
		slog.String("address", cfg.Server.Address),
		slog.String("store", cfg.Store.Backend))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting server", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func buildStore(cfg *config.Config, log *slog.Logger) (breaker.Store, func(), error) {
	var (
		store   breaker.Store
		cleanup = func() {}
	)

	switch cfg.Store.Backend {
	case config.StoreRedis:
		rdb := redistore.NewClient(cfg.Store.Redis.Addr)
		store = redistore.New(rdb)
		cleanup = func() {
			if err := rdb.Close(); err != nil {
				log.Error("Failed to close redis client", slog.Any("err", err))
			}
		}
	case config.StoreMySQL:
		db, dbCleanup, err := gormstore.Open(cfg.Store.MySQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err = gormstore.New(db)
		if err != nil {
			dbCleanup()
			return nil, nil, err
		}
		cleanup = dbCleanup
	default:
		store = memstore.New()
	}

	if cfg.Store.CacheSize > 0 {
		cached, err := cachedstore.New(store, cfg.Store.CacheSize)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		store = cached
	}

	return store, cleanup, nil
}

func buildEngineOptions(cfg *config.Config) (breaker.Options, error) {
	openTimeout, err := time.ParseDuration(cfg.Breaker.OpenTimeout)
	if err != nil {
		return breaker.Options{}, err
	}

	opts := breaker.Options{
		Defaults: breaker.Defaults{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     openTimeout,
		},
		StrictLocking: cfg.Breaker.StrictLocking,
	}

	if len(cfg.Breaker.Services) > 0 {
		opts.Overrides = make(map[string]breaker.Defaults, len(cfg.Breaker.Services))
		for _, svc := range cfg.Breaker.Services {
			override := breaker.Defaults{FailureThreshold: svc.FailureThreshold}
			if svc.OpenTimeout != "" {
				d, err := time.ParseDuration(svc.OpenTimeout)
				if err != nil {
					return breaker.Options{}, err
				}
				override.ResetTimeout = d
			}
			opts.Overrides[svc.Name] = override
		}
	}

	return opts, nil
}

func initializeUpstreams(
	ctx context.Context,
	cfg *config.Config,
	engine *breaker.Engine,
	log *slog.Logger,
) (*upstream.Registry, error) {
	var probeInterval time.Duration
	if cfg.Prober.Enabled {
		var err error
		probeInterval, err = time.ParseDuration(cfg.Prober.Interval)
		if err != nil {
			return nil, err
		}
	}

	registry := upstream.NewRegistry()

	for _, route := range cfg.Routes {
		primary, err := url.Parse(route.URL)
		if err != nil {
			log.Error("Failed to parse route URL",
				slog.String("service", route.Service),
				slog.String("url", route.URL))
			continue
		}

		var fallback *url.URL
		if route.FallbackURL != "" {
			fallback, err = url.Parse(route.FallbackURL)
			if err != nil {
				log.Error("Failed to parse fallback URL",
					slog.String("service", route.Service),
					slog.String("url", route.FallbackURL))
				continue
			}
		}

		target := upstream.New(route.Service, primary, fallback)
		registry.Add(target)

		if cfg.Prober.Enabled {
			go prober.Probe(ctx, engine, target, probeInterval, log)
		}
	}

	return registry, nil
}
