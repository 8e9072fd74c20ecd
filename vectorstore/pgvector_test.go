// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vectorstore

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPgDB connects to the database named by TEST_DATABASE_URL, skipping
// the test when no database is available. The pgvector extension must be
// installed on the target server.
func testPgDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping pgvector store tests")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to PostgreSQL. Is PostgreSQL running?")

	var hasVector bool
	err = db.Get(&hasVector, "SELECT EXISTS(SELECT 1 FROM pg_available_extensions WHERE name = 'vector')")
	require.NoError(t, err, "Failed to check for vector extension")
	require.True(t, hasVector, "pgvector extension not available in PostgreSQL")

	t.Cleanup(func() {
		_, _ = db.Exec("DROP TABLE IF EXISTS " + pgTableName + " CASCADE")
		_ = db.Close()
	})

	return db
}

func TestPgVectorEnsureIndex(t *testing.T) {
	db := testPgDB(t)
	ctx := context.Background()

	store := NewPgVector(db, 4)
	require.NoError(t, store.EnsureIndex(ctx))

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, store.EnsureIndex(ctx))
	})

	t.Run("recreates on dimension change", func(t *testing.T) {
		require.NoError(t, store.Index(ctx, CacheEntry{
			Query:       "q",
			QueryVector: []float32{1, 0, 0, 0},
			Response:    "r",
		}))

		resized := NewPgVector(db, 8)
		require.NoError(t, resized.EnsureIndex(ctx))

		count, err := resized.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count, "dimension change should drop existing entries")
	})
}

func TestPgVectorIndexAndSearch(t *testing.T) {
	db := testPgDB(t)
	ctx := context.Background()

	store := NewPgVector(db, 3)
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

	results, err := store.KNNSearch(ctx, []float32{0.9, 0.1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Paris", results[0].Entry.Response)
	assert.Greater(t, results[0].Score, results[1].Score)

	t.Run("dimension mismatch is rejected before hitting the database", func(t *testing.T) {
		err := store.Index(ctx, CacheEntry{QueryVector: []float32{1, 0}})
		require.ErrorIs(t, err, ErrVectorDimension)

		_, err = store.KNNSearch(ctx, []float32{1, 0}, 1)
		require.ErrorIs(t, err, ErrVectorDimension)
	})
}

func TestPgVectorClear(t *testing.T) {
	db := testPgDB(t)
	ctx := context.Background()

	store := NewPgVector(db, 2)
	require.NoError(t, store.EnsureIndex(ctx))
	require.NoError(t, store.Index(ctx, CacheEntry{QueryVector: []float32{1, 0}, Response: "a"}))

	require.NoError(t, store.Clear(ctx))

	results, err := store.KNNSearch(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
