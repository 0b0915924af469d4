// Package cache persists resolution outcomes and remote metadata snapshots so
// repeated runs only do new work.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/metrics"
	"github.com/NaturalHistoryMuseum/synth-transform/pkg/platform/sentinel"
)

const (
	namespaceResolution = "resolution"
	namespaceMetadata   = "metadata"
)

var (
	// ErrNotFound is returned when a key has no entry.
	ErrNotFound = sentinel.ErrNotFound
	// ErrCorrupt is returned when an entry exists but cannot be decoded.
	ErrCorrupt = sentinel.ErrCorrupt
	// ErrAlreadyResolved is returned by Set when the key already holds a
	// different resolved identifier. The stored entry is left unchanged.
	ErrAlreadyResolved = fmt.Errorf("identifier already resolved: %w", sentinel.ErrConflict)
)

// ResolutionStore maps an output key to its last resolution outcome.
// Implementations must be safe for concurrent writes to distinct keys.
type ResolutionStore interface {
	Get(ctx context.Context, key models.Key) (models.Resolution, error)
	// GetMany returns the decodable entries among keys. Missing and corrupt
	// entries are absent from the result.
	GetMany(ctx context.Context, keys []models.Key) (map[models.Key]models.Resolution, error)
	Set(ctx context.Context, res models.Resolution) error
	Replace(ctx context.Context, res models.Resolution) error
	Contains(ctx context.Context, key models.Key) (bool, error)
	Keys(ctx context.Context) ([]models.Key, error)
}

// MetadataStore maps an identifier to an immutable metadata snapshot.
type MetadataStore interface {
	Get(ctx context.Context, identifier string) (models.RemoteMetadata, error)
	// Set stores md unless a snapshot for the identifier already exists.
	Set(ctx context.Context, md models.RemoteMetadata) error
	Replace(ctx context.Context, md models.RemoteMetadata) error
	Contains(ctx context.Context, identifier string) (bool, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	metrics *metrics.Metrics
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) recordHit(namespace string, start time.Time) {
	o.metrics.RecordCacheHit(namespace, time.Since(start).Seconds())
}

func (o options) recordMiss(namespace string, start time.Time) {
	o.metrics.RecordCacheMiss(namespace, time.Since(start).Seconds())
}

func (o options) recordCorrupt(namespace string, start time.Time) {
	o.metrics.RecordCacheCorrupt(namespace, time.Since(start).Seconds())
}

// validate rejects values no store should accept.
func validate(res models.Resolution) error {
	if !res.Status.Valid() {
		return fmt.Errorf("invalid status %q for %s", string(res.Status), res.Key)
	}
	if res.Status == models.StatusResolved && res.Identifier == "" {
		return fmt.Errorf("resolved entry for %s has no identifier", res.Key)
	}
	return nil
}

// conflicts reports whether writing next over prev would replace a resolved
// identifier with something else.
func conflicts(prev, next models.Resolution) bool {
	return prev.IsResolved() && prev.Identifier != next.Identifier
}

// decodable reports whether a stored entry is well formed.
func decodable(res models.Resolution) bool {
	return validate(res) == nil
}

// MappedIdentifiers translates cached key→identifier resolutions into
// canonical id→identifier using the consolidator's id mappings. Canonical
// outputs without a resolved member are absent.
func MappedIdentifiers(ctx context.Context, store ResolutionStore, mappings []models.IDMapping) (map[int64]string, error) {
	keys := make([]models.Key, len(mappings))
	for i, m := range mappings {
		keys[i] = m.Key
	}
	cached, err := store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load resolutions: %w", err)
	}
	out := make(map[int64]string)
	for _, m := range mappings {
		res, ok := cached[m.Key]
		if !ok || !res.IsResolved() {
			continue
		}
		if _, seen := out[m.CanonicalID]; !seen {
			out[m.CanonicalID] = res.Identifier
		}
	}
	return out, nil
}
