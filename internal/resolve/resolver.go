// Package resolve assigns each output a DOI by running an ordered cascade of
// strategies, reading through and writing through the resolution cache.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/cache"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/metrics"
)

var tracer = otel.Tracer("github.com/NaturalHistoryMuseum/synth-transform/internal/resolve")

// Resolver runs the cascade for single records.
type Resolver struct {
	store      cache.ResolutionStore
	strategies []Strategy
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithClock sets the clock used for ResolvedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a resolver over store running strategies in order.
func New(store cache.ResolutionStore, strategies []Strategy, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("resolution store is required")
	}
	if len(strategies) == 0 {
		return nil, errors.New("at least one strategy is required")
	}
	r := &Resolver{
		store:      store,
		strategies: strategies,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     tracer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the cached outcome for raw when it is final, otherwise runs
// the cascade and stores the result. Missing, corrupt and unresolved_error
// entries all count as misses.
func (r *Resolver) Resolve(ctx context.Context, raw models.RawOutput) (models.Resolution, error) {
	prior, hit, err := r.lookup(ctx, raw.Key)
	if err != nil {
		return models.Resolution{}, err
	}
	if hit && !prior.Retryable() {
		return prior, nil
	}
	return r.run(ctx, raw, prior, false)
}

// Refresh ignores any cached outcome, runs the cascade and replaces the entry.
func (r *Resolver) Refresh(ctx context.Context, raw models.RawOutput) (models.Resolution, error) {
	prior, _, err := r.lookup(ctx, raw.Key)
	if err != nil {
		return models.Resolution{}, err
	}
	return r.run(ctx, raw, prior, true)
}

func (r *Resolver) lookup(ctx context.Context, key models.Key) (models.Resolution, bool, error) {
	res, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		return res, true, nil
	case errors.Is(err, cache.ErrNotFound):
		return models.Resolution{}, false, nil
	case errors.Is(err, cache.ErrCorrupt):
		r.logger.WarnContext(ctx, "corrupt cache entry treated as miss",
			"round", key.Round, "local_id", key.LocalID, "error", err)
		return models.Resolution{}, false, nil
	default:
		return models.Resolution{}, false, fmt.Errorf("read cache for %s: %w", key, err)
	}
}

// run executes the cascade and persists its outcome. prior carries the attempt
// count of the previous entry, if any. A cancelled ctx persists nothing.
func (r *Resolver) run(ctx context.Context, raw models.RawOutput, prior models.Resolution, force bool) (models.Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "resolve.cascade", trace.WithAttributes(
		attribute.Int("round", raw.Key.Round),
		attribute.Int64("local_id", raw.Key.LocalID),
		attribute.Bool("force", force),
	))
	defer span.End()

	res, err := r.cascade(ctx, raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.Resolution{}, err
	}
	res.Attempts = prior.Attempts + 1

	if force {
		err = r.store.Replace(ctx, res)
	} else {
		err = r.store.Set(ctx, res)
	}
	if errors.Is(err, cache.ErrAlreadyResolved) {
		// Another writer resolved this key first; theirs stands unless it
		// cannot be decoded.
		stored, gerr := r.store.Get(ctx, raw.Key)
		switch {
		case gerr == nil:
			res, err = stored, nil
		case errors.Is(gerr, cache.ErrCorrupt):
			r.logger.WarnContext(ctx, "overwriting corrupt cache entry",
				"round", raw.Key.Round, "local_id", raw.Key.LocalID)
			err = r.store.Replace(ctx, res)
		default:
			return models.Resolution{}, fmt.Errorf("reload %s after conflict: %w", raw.Key, gerr)
		}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.Resolution{}, fmt.Errorf("write cache for %s: %w", raw.Key, err)
	}

	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.String("method", string(res.Method)),
	)
	r.metrics.RecordResolution(string(res.Status), string(res.Method))
	r.logger.DebugContext(ctx, "output resolved",
		"round", raw.Key.Round,
		"local_id", raw.Key.LocalID,
		"status", string(res.Status),
		"identifier", res.Identifier,
		"method", string(res.Method),
	)
	return res, nil
}

// cascade runs strategies in order and stops at the first match. A transient
// failure does not stop later strategies; it only decides the outcome when
// nothing matched.
func (r *Resolver) cascade(ctx context.Context, raw models.RawOutput) (models.Resolution, error) {
	var lastErr error
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return models.Resolution{}, err
		}
		result := r.attempt(ctx, s, raw)
		switch result.Outcome {
		case Matched:
			return models.Resolution{
				Key:        raw.Key,
				Status:     models.StatusResolved,
				Identifier: result.Identifier,
				Method:     s.Method(),
				ResolvedAt: r.now().UTC(),
			}, nil
		case TransientError:
			lastErr = result.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return models.Resolution{}, err
	}

	res := models.Resolution{
		Key:        raw.Key,
		Status:     models.StatusNoMatch,
		ResolvedAt: r.now().UTC(),
	}
	if lastErr != nil {
		res.Status = models.StatusTransient
		res.LastError = lastErr.Error()
	}
	return res, nil
}

func (r *Resolver) attempt(ctx context.Context, s Strategy, raw models.RawOutput) Result {
	ctx, span := r.tracer.Start(ctx, "resolve.strategy", trace.WithAttributes(
		attribute.String("method", string(s.Method())),
	))
	defer span.End()

	result := s.Attempt(ctx, raw)
	span.SetAttributes(attribute.String("outcome", result.Outcome.String()))
	if result.Err != nil {
		span.RecordError(result.Err)
		r.logger.WarnContext(ctx, "resolution strategy failed",
			"round", raw.Key.Round,
			"local_id", raw.Key.LocalID,
			"method", string(s.Method()),
			"error", result.Err,
		)
	}
	return result
}
