package resolve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

const progressEvery = 500

// Summary counts the outcomes of a pool run.
type Summary struct {
	Resolved int
	NoMatch  int
	Errors   int
	// Cached is how many outcomes were final in the cache and not re-run.
	Cached   int
	ByMethod map[models.Method]int
}

func (s *Summary) add(res models.Resolution) {
	switch res.Status {
	case models.StatusResolved:
		s.Resolved++
		s.ByMethod[res.Method]++
	case models.StatusNoMatch:
		s.NoMatch++
	case models.StatusTransient:
		s.Errors++
	}
}

// Pool resolves many records with a bounded number of workers. Each worker
// takes one record end to end; there is no ordering between workers.
type Pool struct {
	resolver *Resolver
	workers  int
	logger   *slog.Logger
}

type PoolOption func(*Pool)

func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPool(r *Resolver, workers int, opts ...PoolOption) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		resolver: r,
		workers:  workers,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run resolves every output and returns them paired with their identifiers in
// input order. Final cached outcomes are reused unless force is set. Run
// returns only after every worker has finished.
func (p *Pool) Run(ctx context.Context, outputs []models.RawOutput, force bool) ([]models.ResolvedOutput, Summary, error) {
	summary := Summary{ByMethod: make(map[models.Method]int)}

	keys := make([]models.Key, len(outputs))
	for i, o := range outputs {
		keys[i] = o.Key
	}
	cached, err := p.resolver.store.GetMany(ctx, keys)
	if err != nil {
		return nil, summary, fmt.Errorf("load cached resolutions: %w", err)
	}

	results := make([]models.Resolution, len(outputs))
	var pending []int
	for i, o := range outputs {
		if prior, ok := cached[o.Key]; ok && !force && !prior.Retryable() {
			results[i] = prior
			summary.Cached++
			continue
		}
		pending = append(pending, i)
	}
	p.logger.InfoContext(ctx, "resolving outputs",
		"total", len(outputs),
		"cached", summary.Cached,
		"pending", len(pending),
		"workers", p.workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	var done atomic.Int64
	for _, i := range pending {
		raw := outputs[i]
		prior := cached[raw.Key]
		g.Go(func() error {
			res, err := p.resolver.run(gctx, raw, prior, force)
			if err != nil {
				return err
			}
			results[i] = res
			if n := done.Add(1); n%progressEvery == 0 {
				p.logger.InfoContext(gctx, "resolution progress", "done", n, "pending", len(pending))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, summary, fmt.Errorf("resolve outputs: %w", err)
	}

	resolved := make([]models.ResolvedOutput, len(outputs))
	for i, o := range outputs {
		res := results[i]
		summary.add(res)
		out := models.ResolvedOutput{Output: o}
		if res.IsResolved() {
			out.Identifier = res.Identifier
			out.Method = res.Method
		}
		resolved[i] = out
	}
	return resolved, summary, nil
}
