// Package rebuild sequences a full consolidation run: extract every round,
// resolve identifiers, consolidate duplicates and rewrite the analytical
// schema in one transaction.
package rebuild

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/audit"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/consolidate"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/extract"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/metrics"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/rebuild/target"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve"
)

const (
	stepExtract     = "extract"
	stepResolve     = "resolve"
	stepMetadata    = "metadata"
	stepConsolidate = "consolidate"
	stepAudit       = "audit"
	stepWrite       = "write"
)

// Options selects what a run does. The zero value is a full rebuild.
type Options struct {
	// WithoutData resets the target tables and writes nothing else.
	WithoutData bool
	// ResolveOnly stops after resolution (and metadata) to warm the cache.
	ResolveOnly bool
	// ForceRefresh re-runs the cascade for every key, ignoring the cache.
	ForceRefresh bool
}

// RunSummary reports what a run did.
type RunSummary struct {
	RunID              string
	Extracted          int
	Resolved           int
	NoMatch            int
	Errors             int
	Cached             int
	ByMethod           map[models.Method]int
	Metadata           resolve.MetadataSummary
	Groups             int
	MergedGroups       int
	TitleDisagreements int
	Duration           time.Duration
}

// Orchestrator owns the step order. Steps never overlap; the resolve pool is
// the only parallel part and it drains before consolidation starts.
type Orchestrator struct {
	extractor *extract.Extractor
	pool      *resolve.Pool
	metadata  *resolve.MetadataStep
	target    target.Writer
	emitter   *audit.Emitter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithMetadata enables the metadata snapshot step.
func WithMetadata(step *resolve.MetadataStep) Option {
	return func(o *Orchestrator) { o.metadata = step }
}

// WithEmitter publishes title flags and the run summary.
func WithEmitter(e *audit.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(extractor *extract.Extractor, pool *resolve.Pool, writer target.Writer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		pool:      pool,
		target:    writer,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one rebuild. Any error before the write step leaves the
// target untouched; an error during the write step rolls it back.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (RunSummary, error) {
	start := o.now()
	summary := RunSummary{RunID: uuid.NewString(), ByMethod: map[models.Method]int{}}
	logger := o.logger.With("run_id", summary.RunID)
	logger.InfoContext(ctx, "rebuild started",
		"without_data", opts.WithoutData,
		"resolve_only", opts.ResolveOnly,
		"force_refresh", opts.ForceRefresh,
	)

	if opts.WithoutData {
		err := o.step(ctx, logger, stepWrite, func() error {
			return o.target.Apply(ctx, func(tx target.Tx) error { return tx.Reset(ctx) })
		})
		if err != nil {
			return summary, err
		}
		return o.finish(ctx, logger, summary, start), nil
	}

	var outputs []models.RawOutput
	err := o.step(ctx, logger, stepExtract, func() error {
		var err error
		outputs, err = o.extractor.ExtractAll(ctx)
		return err
	})
	if err != nil {
		return summary, err
	}
	summary.Extracted = len(outputs)

	var resolved []models.ResolvedOutput
	err = o.step(ctx, logger, stepResolve, func() error {
		var (
			rs  resolve.Summary
			err error
		)
		resolved, rs, err = o.pool.Run(ctx, outputs, opts.ForceRefresh)
		summary.Resolved, summary.NoMatch, summary.Errors, summary.Cached = rs.Resolved, rs.NoMatch, rs.Errors, rs.Cached
		if rs.ByMethod != nil {
			summary.ByMethod = rs.ByMethod
		}
		return err
	})
	if err != nil {
		return summary, err
	}

	if o.metadata != nil {
		err = o.step(ctx, logger, stepMetadata, func() error {
			ids := make([]string, 0, len(resolved))
			for _, r := range resolved {
				ids = append(ids, r.Identifier)
			}
			var err error
			summary.Metadata, err = o.metadata.Run(ctx, ids, opts.ForceRefresh)
			return err
		})
		if err != nil {
			return summary, err
		}
	}

	if opts.ResolveOnly {
		return o.finish(ctx, logger, summary, start), nil
	}

	var result consolidate.Result
	err = o.step(ctx, logger, stepConsolidate, func() error {
		result = consolidate.Consolidate(consolidate.Group(resolved))
		summary.Groups = len(result.Outputs)
		summary.MergedGroups = result.MergedGroups()
		summary.TitleDisagreements = len(result.Flags)
		o.metrics.SetConsolidation(summary.Groups, summary.MergedGroups, summary.TitleDisagreements)
		return nil
	})
	if err != nil {
		return summary, err
	}

	if o.emitter != nil {
		_ = o.step(ctx, logger, stepAudit, func() error {
			if err := o.emitter.EmitFlags(ctx, summary.RunID, result.Flags); err != nil {
				logger.WarnContext(ctx, "title flags not published", "error", err)
			}
			return nil
		})
	}

	err = o.step(ctx, logger, stepWrite, func() error {
		return o.target.Apply(ctx, func(tx target.Tx) error {
			if err := tx.Reset(ctx); err != nil {
				return err
			}
			n, err := tx.WriteOutputs(ctx, result.Outputs)
			if err != nil {
				return err
			}
			m, err := tx.WriteMappings(ctx, result.Mappings)
			if err != nil {
				return err
			}
			logger.InfoContext(ctx, "target written", "outputs", n, "mappings", m)
			return nil
		})
	})
	if err != nil {
		return summary, err
	}

	return o.finish(ctx, logger, summary, start), nil
}

func (o *Orchestrator) step(ctx context.Context, logger *slog.Logger, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	start := o.now()
	logger.InfoContext(ctx, "step started", "step", name)
	err := fn()
	elapsed := o.now().Sub(start)
	o.metrics.ObserveStep(name, elapsed.Seconds())
	if err != nil {
		logger.ErrorContext(ctx, "step failed", "step", name, "duration", elapsed, "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.InfoContext(ctx, "step finished", "step", name, "duration", elapsed)
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, summary RunSummary, start time.Time) RunSummary {
	summary.Duration = o.now().Sub(start)
	logger.InfoContext(ctx, "rebuild finished",
		"extracted", summary.Extracted,
		"resolved", summary.Resolved,
		"no_match", summary.NoMatch,
		"errors", summary.Errors,
		"cached", summary.Cached,
		"groups", summary.Groups,
		"merged_groups", summary.MergedGroups,
		"title_disagreements", summary.TitleDisagreements,
		"duration", summary.Duration,
	)
	if o.emitter != nil {
		if err := o.emitter.EmitRun(ctx, runRecord(summary)); err != nil {
			logger.WarnContext(ctx, "run summary not published", "error", err)
		}
	}
	return summary
}

func runRecord(s RunSummary) audit.RunRecord {
	byMethod := make(map[string]int, len(s.ByMethod))
	for m, n := range s.ByMethod {
		byMethod[string(m)] = n
	}
	return audit.RunRecord{
		RunID:              s.RunID,
		Resolved:           s.Resolved,
		NoMatch:            s.NoMatch,
		Errors:             s.Errors,
		Groups:             s.Groups,
		MergedGroups:       s.MergedGroups,
		TitleDisagreements: s.TitleDisagreements,
		ByMethod:           byMethod,
		DurationMS:         s.Duration.Milliseconds(),
	}
}
