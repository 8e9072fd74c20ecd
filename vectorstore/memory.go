// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Memory is an in-process Store for development and tests. It performs a
// brute-force cosine scan instead of an approximate index, which is fine
// at the entry counts a single process cache sees.
type Memory struct {
	mu         sync.RWMutex
	dimensions int
	entries    []CacheEntry
}

func NewMemory(dimensions int) *Memory {
	return &Memory{dimensions: dimensions}
}

func (s *Memory) EnsureIndex(_ context.Context) error {
	return nil
}

func (s *Memory) Index(_ context.Context, entry CacheEntry) error {
	if len(entry.QueryVector) != s.dimensions {
		return errors.Wrapf(ErrVectorDimension, "got %d, index has %d", len(entry.QueryVector), s.dimensions)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)

	return nil
}

func (s *Memory) KNNSearch(_ context.Context, vector []float32, k int) ([]SearchResult, error) {
	if len(vector) != s.dimensions {
		return nil, errors.Wrapf(ErrVectorDimension, "got %d, index has %d", len(vector), s.dimensions)
	}

	now := time.Now().UTC()

	s.mu.RLock()
	results := make([]SearchResult, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Expired(now) {
			continue
		}
		results = append(results, SearchResult{
			Entry: entry,
			Score: cosineSimilarity(vector, entry.QueryVector),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

func (s *Memory) Count(_ context.Context) (int, error) {
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if !entry.Expired(now) {
			count++
		}
	}

	return count, nil
}

func (s *Memory) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil

	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
