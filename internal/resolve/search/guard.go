package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/metrics"
	"github.com/NaturalHistoryMuseum/synth-transform/pkg/platform/circuit"
)

// RetryPolicy bounds the exponential backoff applied to retryable failures.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy allows three retries starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	// The retry count is the bound, not wall time.
	exp.MaxElapsedTime = 0
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)
}

// Guard wraps calls to one remote service with a throttle slot, a circuit
// breaker and bounded retries. Only retryable ProviderErrors are retried or
// counted against the breaker.
type Guard struct {
	name     string
	throttle *Throttle
	breaker  *circuit.Breaker
	retry    RetryPolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type GuardOption func(*Guard)

func WithThrottle(t *Throttle) GuardOption {
	return func(g *Guard) { g.throttle = t }
}

func WithBreaker(b *circuit.Breaker) GuardOption {
	return func(g *Guard) { g.breaker = b }
}

func WithRetryPolicy(p RetryPolicy) GuardOption {
	return func(g *Guard) { g.retry = p }
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates a guard for the named service. Without WithBreaker it gets
// a breaker with default thresholds.
func NewGuard(name string, opts ...GuardOption) *Guard {
	g := &Guard{
		name:   name,
		retry:  DefaultRetryPolicy(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = circuit.New(name)
	}
	return g
}

// Breaker exposes the guard's breaker for health reporting.
func (g *Guard) Breaker() *circuit.Breaker {
	return g.breaker
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retry
// budget or ctx is exhausted. The last error is returned unchanged. While the
// breaker is open each attempt first waits out the cooldown; the wait does not
// use up the retry budget.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	op := func() error {
		if err := g.awaitBreaker(ctx); err != nil {
			return backoff.Permanent(NewProviderError(ErrorProviderOutage, g.name, "circuit open", err))
		}
		release, err := g.throttle.Acquire(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		start := g.now()
		err = fn(ctx)
		release()
		g.observe(err, start)

		if err == nil {
			if _, change := g.breaker.RecordSuccess(); change.Closed {
				g.logger.InfoContext(ctx, "circuit closed", "service", g.name)
			}
			return nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "circuit opened", "service", g.name, "error", err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		g.metrics.IncrementRetries(g.name)
		g.logger.DebugContext(ctx, "retrying remote call",
			"service", g.name,
			"category", string(GetCategory(err)),
			"wait", wait,
		)
	}

	err := backoff.RetryNotify(op, g.retry.backOff(ctx), notify)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return errors.Join(err, ctx.Err())
	}
	return err
}

// awaitBreaker blocks until the breaker allows a call or ctx is done. Another
// caller's failed trial call restarts the cooldown, so it loops.
func (g *Guard) awaitBreaker(ctx context.Context) error {
	for {
		wait := g.breaker.RetryAfter()
		if wait <= 0 {
			return nil
		}
		g.logger.DebugContext(ctx, "waiting for circuit cooldown", "service", g.name, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *Guard) observe(err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = string(GetCategory(err))
	}
	g.metrics.ObserveRemoteRequest(g.name, outcome, g.now().Sub(start).Seconds())
}

// Guarded returns a Provider whose Search runs through g.
func Guarded(p Provider, g *Guard) Provider {
	return &guardedProvider{inner: p, guard: g}
}

type guardedProvider struct {
	inner Provider
	guard *Guard
}

func (p *guardedProvider) ID() string { return p.inner.ID() }

func (p *guardedProvider) Search(ctx context.Context, q Query) ([]Candidate, error) {
	var out []Candidate
	err := p.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.inner.Search(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GuardedFetcher returns a MetadataFetcher whose Fetch runs through g.
func GuardedFetcher(f MetadataFetcher, g *Guard) MetadataFetcher {
	return &guardedFetcher{inner: f, guard: g}
}

type guardedFetcher struct {
	inner MetadataFetcher
	guard *Guard
}

func (f *guardedFetcher) ID() string { return f.inner.ID() }

func (f *guardedFetcher) Fetch(ctx context.Context, identifier string) (*Metadata, error) {
	var out *Metadata
	err := f.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = f.inner.Fetch(ctx, identifier)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
