// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package semanticcache coordinates lookup-or-populate semantics around an
// embedding provider, a vector store, and a language model: embed the
// query, search the store, return the cached response on a similarity hit,
// otherwise invoke the model and index the fresh answer.
package semanticcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mattermost/semantic-cache/embeddings"
	"github.com/mattermost/semantic-cache/llm"
	"github.com/mattermost/semantic-cache/metrics"
	"github.com/mattermost/semantic-cache/vectorstore"
)

const (
	DefaultSimilarityThreshold = 0.7
	DefaultTopK                = 3
)

// Config carries the lookup policy explicitly. It is plain data passed at
// construction, never ambient process state.
type Config struct {
	// SimilarityThreshold is the minimum score for a cache hit.
	SimilarityThreshold float32 `json:"similarityThreshold"`

	// TopK is how many neighbors to fetch per lookup.
	TopK int `json:"topK"`

	// EntryTTLSeconds is the intended lifetime of new entries. Zero
	// disables expiry. Expiry is filtered at lookup, not reaped in the
	// background.
	EntryTTLSeconds int `json:"entryTTLSeconds"`

	// FallbackOnStoreError controls whether a store failure during lookup
	// degrades to a fresh LLM call instead of failing the request. Either
	// way the failure is surfaced as OutcomeUnavailable, never conflated
	// with a miss.
	FallbackOnStoreError bool `json:"fallbackOnStoreError"`

	// LLMName labels metrics for the downstream model.
	LLMName string `json:"llmName"`
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:  DefaultSimilarityThreshold,
		TopK:                 DefaultTopK,
		FallbackOnStoreError: true,
	}
}

// Outcome classifies a lookup.
type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeMiss        Outcome = "miss"
	OutcomeUnavailable Outcome = "unavailable"
)

// LookupResult is the tagged result of a cache lookup. Err is set only
// for OutcomeUnavailable.
type LookupResult struct {
	Outcome  Outcome
	Response string
	Score    float32
	Err      error
}

// QueryResult is the outcome of a full lookup-or-populate cycle.
type QueryResult struct {
	Response string  `json:"response"`
	Outcome  Outcome `json:"outcome"`
	Score    float32 `json:"similarity,omitempty"`
	Cached   bool    `json:"cached"`
}

// Cache is the orchestrator. All calls are synchronous; the only internal
// coordination is the singleflight group deduplicating concurrent
// populations of the same query. The lookup policy is held behind an
// atomic pointer so it can be swapped at runtime by a config reload.
type Cache struct {
	embedder embeddings.EmbeddingProvider
	store    vectorstore.Store
	model    llm.LanguageModel
	config   atomic.Pointer[Config]
	metrics  metrics.Metrics
	log      *logrus.Logger
	inflight singleflight.Group
}

func New(embedder embeddings.EmbeddingProvider, store vectorstore.Store, model llm.LanguageModel, config Config, m metrics.Metrics, log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.New()
	}
	if m == nil {
		m = metrics.NewMetrics(metrics.InstanceInfo{})
	}

	cache := &Cache{
		embedder: embedder,
		store:    store,
		model:    model,
		metrics:  m,
		log:      log,
	}
	cache.UpdateConfig(config)

	return cache
}

// UpdateConfig replaces the lookup policy. In-flight requests finish under
// the policy they started with.
func (c *Cache) UpdateConfig(config Config) {
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	c.config.Store(&config)
}

// Config returns the current lookup policy.
func (c *Cache) Config() Config {
	return *c.config.Load()
}

// Lookup embeds the query and searches the store without populating on a
// miss. An embedding failure is returned as an error; a store failure is
// reported as OutcomeUnavailable so the caller decides whether to degrade.
func (c *Cache) Lookup(ctx context.Context, query string) (LookupResult, error) {
	vector, err := c.embedQuery(ctx, query)
	if err != nil {
		return LookupResult{}, err
	}

	return c.lookupVector(ctx, vector), nil
}

func (c *Cache) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}

	start := time.Now()
	vector, err := c.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}
	c.metrics.ObserveEmbeddingDuration(time.Since(start).Seconds())

	return vector, nil
}

func (c *Cache) lookupVector(ctx context.Context, vector []float32) LookupResult {
	config := c.Config()

	results, err := c.store.KNNSearch(ctx, vector, config.TopK)
	if err != nil {
		c.metrics.IncrementCacheLookups(metrics.LookupOutcomeUnavailable)
		c.log.WithError(err).Warn("similarity store unavailable during lookup")
		return LookupResult{Outcome: OutcomeUnavailable, Err: err}
	}

	// Results arrive score descending; the first one past the threshold
	// wins. Ties keep the store's arbitrary ordering.
	for _, result := range results {
		if result.Score > config.SimilarityThreshold {
			c.metrics.IncrementCacheLookups(metrics.LookupOutcomeHit)
			return LookupResult{
				Outcome:  OutcomeHit,
				Response: result.Entry.Response,
				Score:    result.Score,
			}
		}
	}

	c.metrics.IncrementCacheLookups(metrics.LookupOutcomeMiss)
	return LookupResult{Outcome: OutcomeMiss}
}

// Query runs the full lookup-or-populate cycle. Concurrent callers with
// the same normalized query share a single population; everyone else runs
// independently with no cross-process coordination.
func (c *Cache) Query(ctx context.Context, query string) (QueryResult, error) {
	vector, err := c.embedQuery(ctx, query)
	if err != nil {
		return QueryResult{}, err
	}

	lookup := c.lookupVector(ctx, vector)
	switch lookup.Outcome {
	case OutcomeHit:
		c.log.WithFields(logrus.Fields{
			"score": lookup.Score,
		}).Debug("cache hit")
		return QueryResult{
			Response: lookup.Response,
			Outcome:  OutcomeHit,
			Score:    lookup.Score,
			Cached:   true,
		}, nil
	case OutcomeUnavailable:
		if !c.Config().FallbackOnStoreError {
			return QueryResult{}, errors.Wrap(lookup.Err, "similarity store unavailable")
		}
		// Degrade to the slower path below.
	case OutcomeMiss:
	}

	// The singleflight entry is forgotten once the leader returns, so
	// sequential populations of the same query each run independently.
	result, err, _ := c.inflight.Do(queryFingerprint(query), func() (any, error) {
		return c.populate(ctx, query, vector, lookup.Outcome)
	})
	if err != nil {
		return QueryResult{}, err
	}

	return result.(QueryResult), nil
}

func (c *Cache) populate(ctx context.Context, query string, vector []float32, outcome Outcome) (QueryResult, error) {
	config := c.Config()

	start := time.Now()
	c.metrics.IncrementLLMRequests(config.LLMName)

	response, err := c.model.ChatCompletionNoStream(llm.UserCompletionRequest(query))
	if err != nil {
		return QueryResult{}, errors.Wrap(err, "llm invocation failed")
	}
	c.metrics.ObserveLLMDuration(config.LLMName, time.Since(start).Seconds())

	entry := vectorstore.CacheEntry{
		Query:       query,
		QueryVector: vector,
		Response:    response,
		CreatedAt:   time.Now().UTC(),
		TTL:         config.EntryTTLSeconds,
	}

	// A failed write costs a future miss, not this response.
	if err := c.store.Index(ctx, entry); err != nil {
		c.log.WithError(err).Warn("failed to store cache entry")
	} else {
		c.metrics.IncrementCacheStores()
	}

	return QueryResult{
		Response: response,
		Outcome:  outcome,
	}, nil
}

// Clear wipes the underlying index. Destructive and immediate.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "failed to clear cache")
	}

	c.log.Info("semantic cache cleared")
	return nil
}

// Count returns the number of live entries in the index.
func (c *Cache) Count(ctx context.Context) (int, error) {
	return c.store.Count(ctx)
}

// queryFingerprint normalizes a query for in-flight deduplication. Only
// textually equivalent queries share a population; semantically similar
// but distinct queries still race, matching the store's no-dedup contract.
func queryFingerprint(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
