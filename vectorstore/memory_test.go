// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexAndSearch(t *testing.T) {
	store := NewMemory(3)
	ctx := context.Background()
	require.NoError(t, store.EnsureIndex(ctx))

	require.NoError(t, store.Index(ctx, CacheEntry{
		Query:       "capital of France",
		QueryVector: []float32{1, 0, 0},
		Response:    "Paris",
	}))
	require.NoError(t, store.Index(ctx, CacheEntry{
		Query:       "weather in Tokyo",
		QueryVector: []float32{0, 1, 0},
		Response:    "Rainy",
	}))

	t.Run("nearest entry comes back first with highest score", func(t *testing.T) {
		results, err := store.KNNSearch(ctx, []float32{0.9, 0.1, 0}, 3)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, "Paris", results[0].Entry.Response)
		assert.Greater(t, results[0].Score, results[1].Score)
	})

	t.Run("k limits the result count", func(t *testing.T) {
		results, err := store.KNNSearch(ctx, []float32{0.9, 0.1, 0}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Paris", results[0].Entry.Response)
	})

	t.Run("identical vector scores one", func(t *testing.T) {
		results, err := store.KNNSearch(ctx, []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 1.0, float64(results[0].Score), 0.0001)
	})

	t.Run("repeated identical queries create independent entries", func(t *testing.T) {
		other := NewMemory(3)
		entry := CacheEntry{Query: "dup", QueryVector: []float32{0, 0, 1}, Response: "same"}
		require.NoError(t, other.Index(ctx, entry))
		require.NoError(t, other.Index(ctx, entry))

		count, err := other.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func TestMemoryDimensionMismatch(t *testing.T) {
	store := NewMemory(3)
	ctx := context.Background()

	err := store.Index(ctx, CacheEntry{QueryVector: []float32{1, 0}})
	require.ErrorIs(t, err, ErrVectorDimension)

	_, err = store.KNNSearch(ctx, []float32{1, 0}, 1)
	require.ErrorIs(t, err, ErrVectorDimension)
}

func TestMemoryTTLFiltering(t *testing.T) {
	store := NewMemory(2)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, CacheEntry{
		Query:       "stale",
		QueryVector: []float32{1, 0},
		Response:    "old",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		TTL:         60,
	}))
	require.NoError(t, store.Index(ctx, CacheEntry{
		Query:       "fresh",
		QueryVector: []float32{1, 0},
		Response:    "new",
		TTL:         3600,
	}))

	results, err := store.KNNSearch(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Entry.Response)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryClear(t *testing.T) {
	store := NewMemory(2)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, CacheEntry{QueryVector: []float32{1, 0}, Response: "a"}))
	require.NoError(t, store.Clear(ctx))

	results, err := store.KNNSearch(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Now().UTC()

	assert.False(t, CacheEntry{CreatedAt: now.Add(-time.Hour)}.Expired(now))
	assert.False(t, CacheEntry{CreatedAt: now, TTL: 60}.Expired(now))
	assert.True(t, CacheEntry{CreatedAt: now.Add(-2 * time.Minute), TTL: 60}.Expired(now))
}
