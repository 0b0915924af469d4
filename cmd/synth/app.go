package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/audit"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/cache"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/extract"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/config"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/httpserver"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/logger"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/metrics"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/rebuild"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/rebuild/target"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve/search"
	"github.com/NaturalHistoryMuseum/synth-transform/pkg/platform/circuit"
)

// app holds everything a command needs and everything that must be closed
// when it finishes.
type app struct {
	logger       *slog.Logger
	orchestrator *rebuild.Orchestrator
	closers      []func() error
	stopServer   context.CancelFunc
}

func (a *app) Close() error {
	if a.stopServer != nil {
		a.stopServer()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	a := &app{logger: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	stores, err := cache.Open(ctx, cfg.Cache, cache.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, stores.Close)

	providers, fetcher, breakers, err := buildProviders(cfg.Search, log, m)
	if err != nil {
		return nil, err
	}

	resolver, err := resolve.New(stores.Resolutions, resolve.DefaultStrategies(providers...),
		resolve.WithLogger(log),
		resolve.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	pool := resolve.NewPool(resolver, cfg.Resolve.Workers, resolve.WithPoolLogger(log))

	reader, err := extract.NewPostgresReader(ctx, cfg.Sources)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { reader.Close(); return nil })

	targetPool, err := pgxpool.New(ctx, cfg.Target.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to target: %w", err)
	}
	a.closers = append(a.closers, func() error { targetPool.Close(); return nil })
	writer := target.NewPostgres(targetPool)
	if err := writer.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	publisher, err := buildPublisher(ctx, cfg.Audit, log)
	if err != nil {
		return nil, err
	}
	emitter := audit.NewEmitter(publisher, audit.WithLogger(log))
	a.closers = append(a.closers, emitter.Close)

	opts := []rebuild.Option{
		rebuild.WithLogger(log),
		rebuild.WithMetrics(m),
		rebuild.WithEmitter(emitter),
	}
	if cfg.Resolve.FetchMetadata && fetcher != nil {
		opts = append(opts, rebuild.WithMetadata(
			resolve.NewMetadataStep(fetcher, stores.Metadata, cfg.Resolve.Workers, log),
		))
	}
	a.orchestrator = rebuild.New(
		extract.New(reader, cfg.Rounds(), extract.WithLogger(log)),
		pool,
		writer,
		opts...,
	)

	if cfg.Metrics.Addr != "" {
		checks := map[string]httpserver.HealthFunc{
			"cache":  stores.Health,
			"source": reader.Ping,
			"target": targetPool.Ping,
		}
		for _, b := range breakers {
			checks[b.Name()] = breakerHealth(b)
		}
		srvCtx, cancel := context.WithCancel(ctx)
		a.stopServer = cancel
		srv := httpserver.New(cfg.Metrics.Addr, httpserver.Router(reg, checks))
		go func() {
			if err := httpserver.Serve(srvCtx, srv, log); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}
	return a, nil
}

// buildProviders wraps each enabled search service in its own guard. The
// throttle is shared so the in-flight cap and request rate are global.
func buildProviders(cfg config.Search, log *slog.Logger, m *metrics.Metrics) ([]search.Provider, search.MetadataFetcher, []*circuit.Breaker, error) {
	throttle := search.NewThrottle(cfg.Throttle.MaxInFlight, cfg.Throttle.Requests, cfg.Throttle.Window.Std())
	retry := search.RetryPolicy{
		MaxRetries:      cfg.Retry.MaxRetries,
		InitialInterval: cfg.Retry.InitialInterval.Std(),
		MaxInterval:     cfg.Retry.MaxInterval.Std(),
		Multiplier:      search.DefaultRetryPolicy().Multiplier,
	}
	client := search.ClientConfig{
		UserAgent: search.UserAgent(cfg.AppName, version, cfg.Mailto),
		Timeout:   cfg.Timeout.Std(),
	}
	guard := func(name string) *search.Guard {
		return search.NewGuard(name,
			search.WithThrottle(throttle),
			search.WithBreaker(circuit.New(name,
				circuit.WithFailureThreshold(cfg.Breaker.FailureThreshold),
				circuit.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
				circuit.WithCooldown(cfg.Breaker.Cooldown.Std()),
			)),
			search.WithRetryPolicy(retry),
			search.WithLogger(log),
			search.WithMetrics(m),
		)
	}

	registry := search.NewRegistry()
	var (
		fetcher  search.MetadataFetcher
		breakers []*circuit.Breaker
	)
	if cfg.Crossref.Enabled {
		cc := client
		cc.BaseURL, cc.Rows = cfg.Crossref.BaseURL, cfg.Crossref.Rows
		crossref := search.NewCrossref(cc, nil)
		g := guard(search.CrossrefID)
		if err := registry.Register(search.Guarded(crossref, g)); err != nil {
			return nil, nil, nil, err
		}
		fetcher = search.GuardedFetcher(crossref, g)
		breakers = append(breakers, g.Breaker())
	}
	if cfg.Refindit.Enabled {
		rc := client
		rc.BaseURL, rc.Rows = cfg.Refindit.BaseURL, cfg.Refindit.Rows
		g := guard(search.RefinditID)
		if err := registry.Register(search.Guarded(search.NewRefindit(rc, nil), g)); err != nil {
			return nil, nil, nil, err
		}
		breakers = append(breakers, g.Breaker())
	}
	return registry.All(), fetcher, breakers, nil
}

func buildPublisher(ctx context.Context, cfg config.Audit, log *slog.Logger) (audit.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return audit.NewLogPublisher(log), nil
	}
	pub, err := audit.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if cfg.Kafka.CreateTopic {
		if err := pub.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			_ = pub.Close()
			return nil, err
		}
	}
	return pub, nil
}

func breakerHealth(b *circuit.Breaker) httpserver.HealthFunc {
	return func(context.Context) error {
		if b.IsOpen() {
			return fmt.Errorf("circuit %s", b.State())
		}
		return nil
	}
}
