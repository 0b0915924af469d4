package cache_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/cache"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/config"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/metrics"
)

func TestInMemoryResolutions(t *testing.T) {
	runResolutionStoreContract(t, func(*testing.T) cache.ResolutionStore {
		return cache.NewInMemoryResolutions()
	})
}

func TestInMemoryMetadata(t *testing.T) {
	runMetadataStoreContract(t, func(*testing.T) cache.MetadataStore {
		return cache.NewInMemoryMetadata()
	})
}

func TestInMemoryResolutions_RecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := cache.NewInMemoryResolutions(cache.WithMetrics(m))
	ctx := context.Background()

	_, _ = s.Get(ctx, models.Key{Round: 1, LocalID: 1})
	require.NoError(t, s.Set(ctx, resolved(1, 1, "10.1234/abc")))
	_, _ = s.Get(ctx, models.Key{Round: 1, LocalID: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resolution", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resolution", "hit")))
	assert.Equal(t, 1, s.Len())
}

func TestMappedIdentifiers(t *testing.T) {
	ctx := context.Background()
	s := cache.NewInMemoryResolutions()
	require.NoError(t, s.Set(ctx, resolved(1, 1, "10.1234/abc")))
	require.NoError(t, s.Set(ctx, resolved(2, 4, "10.1234/abc")))
	require.NoError(t, s.Set(ctx, unresolved(2, 5, models.StatusNoMatch)))

	mappings := []models.IDMapping{
		{Key: models.Key{Round: 1, LocalID: 1}, CanonicalID: 1},
		{Key: models.Key{Round: 2, LocalID: 4}, CanonicalID: 1},
		{Key: models.Key{Round: 2, LocalID: 5}, CanonicalID: 2},
		{Key: models.Key{Round: 2, LocalID: 6}, CanonicalID: 3},
	}

	got, err := cache.MappedIdentifiers(ctx, s, mappings)
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "10.1234/abc"}, got)
}

func TestOpen_Memory(t *testing.T) {
	stores, err := cache.Open(context.Background(), config.Cache{Backend: config.CacheMemory})
	require.NoError(t, err)
	assert.IsType(t, &cache.InMemoryResolutions{}, stores.Resolutions)
	assert.IsType(t, &cache.InMemoryMetadata{}, stores.Metadata)
	assert.NoError(t, stores.Health(context.Background()))
	assert.NoError(t, stores.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := cache.Open(context.Background(), config.Cache{Backend: "sqlite"})
	require.Error(t, err)
}
