package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/cache"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/pkg/platform/sentinel"
)

var fixedTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func resolved(round int, local int64, id string) models.Resolution {
	return models.Resolution{
		Key:        models.Key{Round: round, LocalID: local},
		Status:     models.StatusResolved,
		Identifier: id,
		Method:     models.MethodPattern,
		Attempts:   1,
		ResolvedAt: fixedTime,
	}
}

func unresolved(round int, local int64, status models.Status) models.Resolution {
	return models.Resolution{
		Key:        models.Key{Round: round, LocalID: local},
		Status:     status,
		Attempts:   1,
		ResolvedAt: fixedTime,
	}
}

// runResolutionStoreContract exercises behaviour every backend must share.
// newStore must return an empty store.
func runResolutionStoreContract(t *testing.T, newStore func(t *testing.T) cache.ResolutionStore) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, models.Key{Round: 1, LocalID: 1})
		assert.ErrorIs(t, err, cache.ErrNotFound)
		ok, err := s.Contains(ctx, models.Key{Round: 1, LocalID: 1})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t)
		want := resolved(1, 7, "10.1234/abc")
		require.NoError(t, s.Set(ctx, want))

		got, err := s.Get(ctx, want.Key)
		require.NoError(t, err)
		assert.Equal(t, want.Key, got.Key)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.Identifier, got.Identifier)
		assert.Equal(t, want.Method, got.Method)
		assert.True(t, want.ResolvedAt.Equal(got.ResolvedAt))

		ok, err := s.Contains(ctx, want.Key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("resolved identifier is never overwritten by set", func(t *testing.T) {
		s := newStore(t)
		first := resolved(2, 1, "10.1234/abc")
		require.NoError(t, s.Set(ctx, first))

		err := s.Set(ctx, resolved(2, 1, "10.9999/other"))
		assert.ErrorIs(t, err, cache.ErrAlreadyResolved)
		assert.ErrorIs(t, err, sentinel.ErrConflict)

		err = s.Set(ctx, unresolved(2, 1, models.StatusNoMatch))
		assert.ErrorIs(t, err, cache.ErrAlreadyResolved)

		got, err := s.Get(ctx, first.Key)
		require.NoError(t, err)
		assert.Equal(t, "10.1234/abc", got.Identifier)
	})

	t.Run("set with the same identifier is idempotent", func(t *testing.T) {
		s := newStore(t)
		res := resolved(2, 2, "10.1234/abc")
		require.NoError(t, s.Set(ctx, res))
		res.Attempts = 2
		require.NoError(t, s.Set(ctx, res))

		got, err := s.Get(ctx, res.Key)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Attempts)
	})

	t.Run("unresolved entries can be upgraded", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, unresolved(3, 1, models.StatusTransient)))
		require.NoError(t, s.Set(ctx, resolved(3, 1, "10.1234/late")))

		got, err := s.Get(ctx, models.Key{Round: 3, LocalID: 1})
		require.NoError(t, err)
		assert.Equal(t, models.StatusResolved, got.Status)
	})

	t.Run("replace overrides a resolved entry", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, resolved(3, 2, "10.1234/old")))
		require.NoError(t, s.Replace(ctx, unresolved(3, 2, models.StatusNoMatch)))

		got, err := s.Get(ctx, models.Key{Round: 3, LocalID: 2})
		require.NoError(t, err)
		assert.Equal(t, models.StatusNoMatch, got.Status)
		assert.Empty(t, got.Identifier)
	})

	t.Run("invalid entries are rejected", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.Set(ctx, models.Resolution{Key: models.Key{Round: 1, LocalID: 1}, Status: "maybe"}))
		assert.Error(t, s.Replace(ctx, models.Resolution{Key: models.Key{Round: 1, LocalID: 1}, Status: models.StatusResolved}))
	})

	t.Run("keys and get many", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, resolved(2, 5, "10.1234/b")))
		require.NoError(t, s.Set(ctx, resolved(1, 9, "10.1234/a")))
		require.NoError(t, s.Set(ctx, unresolved(2, 1, models.StatusNoMatch)))

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.Key{{Round: 1, LocalID: 9}, {Round: 2, LocalID: 1}, {Round: 2, LocalID: 5}}, keys)

		got, err := s.GetMany(ctx, []models.Key{{Round: 1, LocalID: 9}, {Round: 2, LocalID: 5}, {Round: 4, LocalID: 4}})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, "10.1234/a", got[models.Key{Round: 1, LocalID: 9}].Identifier)
	})

	t.Run("concurrent writes to distinct keys", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Set(ctx, resolved(5, int64(i), fmt.Sprintf("10.1234/%d", i))))
			}(i)
		}
		wg.Wait()

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 50)
	})

	t.Run("concurrent conflicting writes keep one identifier", func(t *testing.T) {
		s := newStore(t)
		key := models.Key{Round: 6, LocalID: 1}
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = s.Set(ctx, resolved(6, 1, fmt.Sprintf("10.1234/%d", i)))
			}(i)
		}
		wg.Wait()

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, got.IsResolved())
		// every later writer saw the first identifier and was refused
		for i := range 20 {
			id := fmt.Sprintf("10.1234/%d", i)
			if id == got.Identifier {
				continue
			}
			assert.ErrorIs(t, s.Set(ctx, resolved(6, 1, id)), cache.ErrAlreadyResolved)
		}
	})
}

func runMetadataStoreContract(t *testing.T, newStore func(t *testing.T) cache.MetadataStore) {
	ctx := context.Background()
	md := models.RemoteMetadata{
		Identifier: "10.1234/abc",
		Title:      "Bees of Kent",
		Source:     "crossref",
		Payload:    []byte(`{"DOI":"10.1234/abc"}`),
		FetchedAt:  fixedTime,
	}

	t.Run("missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "10.1234/none")
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("set is insert if absent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, md))

		changed := md
		changed.Title = "Changed"
		require.NoError(t, s.Set(ctx, changed))

		got, err := s.Get(ctx, md.Identifier)
		require.NoError(t, err)
		assert.Equal(t, "Bees of Kent", got.Title)
		assert.JSONEq(t, `{"DOI":"10.1234/abc"}`, string(got.Payload))

		ok, err := s.Contains(ctx, md.Identifier)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("replace overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, md))
		changed := md
		changed.Title = "Changed"
		require.NoError(t, s.Replace(ctx, changed))

		got, err := s.Get(ctx, md.Identifier)
		require.NoError(t, err)
		assert.Equal(t, "Changed", got.Title)
	})
}
