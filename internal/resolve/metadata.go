package resolve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/cache"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve/search"
)

// MetadataSummary counts the outcomes of a metadata run.
type MetadataSummary struct {
	Fetched int
	Cached  int
	Failed  int
}

// MetadataStep snapshots remote metadata for resolved identifiers. Failures
// are counted and logged; they never fail the run.
type MetadataStep struct {
	fetcher search.MetadataFetcher
	store   cache.MetadataStore
	workers int
	logger  *slog.Logger
}

func NewMetadataStep(fetcher search.MetadataFetcher, store cache.MetadataStore, workers int, logger *slog.Logger) *MetadataStep {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MetadataStep{fetcher: fetcher, store: store, workers: workers, logger: logger}
}

// Run fetches metadata for each distinct identifier not already stored, or
// for all of them when force is set.
func (m *MetadataStep) Run(ctx context.Context, identifiers []string, force bool) (MetadataSummary, error) {
	var summary MetadataSummary
	seen := make(map[string]struct{}, len(identifiers))
	var todo []string
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if !force {
			ok, err := m.store.Contains(ctx, id)
			if err != nil {
				return summary, fmt.Errorf("check metadata cache: %w", err)
			}
			if ok {
				summary.Cached++
				continue
			}
		}
		todo = append(todo, id)
	}

	var fetched, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, id := range todo {
		g.Go(func() error {
			md, err := m.fetcher.Fetch(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				m.logger.WarnContext(gctx, "metadata fetch failed",
					"identifier", id,
					"category", string(search.GetCategory(err)),
					"error", err,
				)
				return nil
			}
			snapshot := models.RemoteMetadata{
				Identifier: id,
				Title:      md.Title,
				Source:     md.Source,
				Payload:    md.Payload,
				FetchedAt:  md.FetchedAt,
			}
			if force {
				err = m.store.Replace(gctx, snapshot)
			} else {
				err = m.store.Set(gctx, snapshot)
			}
			if err != nil {
				return fmt.Errorf("store metadata %s: %w", id, err)
			}
			fetched.Add(1)
			return nil
		})
	}
	err := g.Wait()
	summary.Fetched = int(fetched.Load())
	summary.Failed = int(failed.Load())
	if err != nil {
		return summary, fmt.Errorf("fetch metadata: %w", err)
	}
	return summary, nil
}
