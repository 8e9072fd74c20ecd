// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package vectorstore provides k-nearest-neighbor indexes for cache entries.
package vectorstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// CacheEntry is one stored (query, vector, response) tuple. Entries are
// created on cache misses and never mutated afterwards.
type CacheEntry struct {
	ID          string    `json:"id" db:"id"`
	Query       string    `json:"query" db:"query"`
	QueryVector []float32 `json:"query_vectors" db:"query_vectors"`
	Response    string    `json:"response" db:"response"`
	CreatedAt   time.Time `json:"create_date" db:"create_date"`

	// TTL is the intended lifetime in seconds. Zero means no expiry.
	// Expired entries are filtered at search time rather than reaped
	// by a background process.
	TTL int `json:"ttl" db:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed relative to now.
func (e CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(time.Duration(e.TTL) * time.Second))
}

// SearchResult annotates an entry with its similarity score in [0, 1],
// where 1 is an exact match under cosine similarity.
type SearchResult struct {
	Entry CacheEntry
	Score float32
}

// ErrVectorDimension is returned when a vector does not match the
// dimension the index was created with.
var ErrVectorDimension = errors.New("vector dimension does not match index")

// Store indexes and queries CacheEntry vectors.
//
// The index is a shared external resource; implementations perform no
// cross-process coordination, and concurrent writers may create
// near-duplicate entries.
type Store interface {
	// EnsureIndex idempotently provisions the index. Implementations
	// tolerate an already-existing index, and recreate it when the
	// stored vector dimension differs from the configured one.
	EnsureIndex(ctx context.Context) error

	// Index inserts one entry. No deduplication is performed.
	Index(ctx context.Context, entry CacheEntry) error

	// KNNSearch returns up to k nearest entries by vector distance,
	// score descending. Logically expired entries are excluded.
	KNNSearch(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Count returns the number of live entries in the index.
	Count(ctx context.Context) (int, error)

	// Clear deletes the entire index and recreates it empty.
	// Destructive and immediate; confirmation belongs to the caller.
	Clear(ctx context.Context) error
}
