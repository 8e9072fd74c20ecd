// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vectorstore

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix      = "semcache:"
	redisDialectVersion = 2

	redisFieldQuery        = "query"
	redisFieldQueryVectors = "query_vectors"
	redisFieldResponse     = "response"
	redisFieldCreateDate   = "create_date"
	redisFieldTTL          = "ttl"
	redisFieldScore        = "score"
)

// Redis is a Store backed by Redis Stack's RediSearch vector index.
// Entries live in hashes under a common key prefix; expiry rides on the
// per-key TTL, so expired entries disappear from the index on their own.
type Redis struct {
	client     *redis.Client
	indexName  string
	dimensions int
}

func NewRedis(client *redis.Client, indexName string, dimensions int) *Redis {
	return &Redis{
		client:     client,
		indexName:  indexName,
		dimensions: dimensions,
	}
}

// float32sToBytes converts a vector to the little-endian binary layout
// RediSearch expects for FLOAT32 vector fields.
func float32sToBytes(fs []float32) []byte {
	const bytesPerFloat32 = 4
	buf := make([]byte, len(fs)*bytesPerFloat32)

	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[i*bytesPerFloat32:], math.Float32bits(f))
	}

	return buf
}

// EnsureIndex creates the search index if it does not exist. FT.INFO does
// not expose the vector dimension, so unlike the Postgres store a dimension
// change requires an explicit Clear.
func (s *Redis) EnsureIndex(ctx context.Context) error {
	if err := s.client.FTInfo(ctx, s.indexName).Err(); err == nil {
		return nil
	}

	return s.createIndex(ctx)
}

func (s *Redis) createIndex(ctx context.Context) error {
	err := s.client.FTCreate(ctx, s.indexName,
		&redis.FTCreateOptions{
			OnHash: true,
			Prefix: []any{redisKeyPrefix},
		},
		&redis.FieldSchema{
			FieldName: redisFieldQueryVectors,
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				HNSWOptions: &redis.FTHNSWOptions{
					Type:           "FLOAT32",
					Dim:            s.dimensions,
					DistanceMetric: "COSINE",
				},
			},
		},
		&redis.FieldSchema{
			FieldName: redisFieldQuery,
			FieldType: redis.SearchFieldTypeText,
		},
		&redis.FieldSchema{
			FieldName: redisFieldResponse,
			FieldType: redis.SearchFieldTypeText,
		},
		&redis.FieldSchema{
			FieldName: redisFieldCreateDate,
			FieldType: redis.SearchFieldTypeNumeric,
			Sortable:  true,
		},
		&redis.FieldSchema{
			FieldName: redisFieldTTL,
			FieldType: redis.SearchFieldTypeNumeric,
		},
	).Err()
	if err != nil && !isIndexExistsError(err) {
		return errors.Wrap(err, "failed to create index")
	}

	return nil
}

// isIndexExistsError tolerates concurrent index creation.
func isIndexExistsError(err error) bool {
	return err != nil && err.Error() == "Index already exists"
}

func (s *Redis) Index(ctx context.Context, entry CacheEntry) error {
	if len(entry.QueryVector) != s.dimensions {
		return errors.Wrapf(ErrVectorDimension, "got %d, index has %d", len(entry.QueryVector), s.dimensions)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	key := redisKeyPrefix + entry.ID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		redisFieldQuery, entry.Query,
		redisFieldQueryVectors, float32sToBytes(entry.QueryVector),
		redisFieldResponse, entry.Response,
		redisFieldCreateDate, entry.CreatedAt.Unix(),
		redisFieldTTL, entry.TTL,
	)
	if entry.TTL > 0 {
		pipe.Expire(ctx, key, time.Duration(entry.TTL)*time.Second)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to index cache entry")
	}

	return nil
}

func (s *Redis) KNNSearch(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if len(vector) != s.dimensions {
		return nil, errors.Wrapf(ErrVectorDimension, "got %d, index has %d", len(vector), s.dimensions)
	}

	query := "*=>[KNN " + strconv.Itoa(k) + " @" + redisFieldQueryVectors + " $vec AS " + redisFieldScore + "]"

	result, err := s.client.FTSearchWithArgs(ctx, s.indexName, query,
		&redis.FTSearchOptions{
			Return: []redis.FTSearchReturn{
				{FieldName: redisFieldQuery},
				{FieldName: redisFieldResponse},
				{FieldName: redisFieldCreateDate},
				{FieldName: redisFieldTTL},
				{FieldName: redisFieldScore},
			},
			SortBy: []redis.FTSearchSortBy{
				{FieldName: redisFieldScore, Asc: true},
			},
			DialectVersion: redisDialectVersion,
			Params: map[string]any{
				"vec": float32sToBytes(vector),
			},
		},
	).Result()
	if err != nil {
		return nil, errors.Wrap(err, "knn search failed")
	}

	results := make([]SearchResult, 0, len(result.Docs))
	for _, doc := range result.Docs {
		if parsed, ok := parseRedisDoc(doc); ok {
			results = append(results, parsed)
		}
	}

	return results, nil
}

func parseRedisDoc(doc redis.Document) (SearchResult, bool) {
	distanceStr, ok := doc.Fields[redisFieldScore]
	if !ok {
		return SearchResult{}, false
	}
	distance, err := strconv.ParseFloat(distanceStr, 32)
	if err != nil {
		return SearchResult{}, false
	}

	entry := CacheEntry{
		ID:       strings.TrimPrefix(doc.ID, redisKeyPrefix),
		Query:    doc.Fields[redisFieldQuery],
		Response: doc.Fields[redisFieldResponse],
	}
	if ts, parseErr := strconv.ParseInt(doc.Fields[redisFieldCreateDate], 10, 64); parseErr == nil {
		entry.CreatedAt = time.Unix(ts, 0).UTC()
	}
	if ttl, parseErr := strconv.Atoi(doc.Fields[redisFieldTTL]); parseErr == nil {
		entry.TTL = ttl
	}

	// RediSearch returns cosine distance; flip it into a similarity.
	return SearchResult{Entry: entry, Score: 1.0 - float32(distance)}, true
}

func (s *Redis) Count(ctx context.Context) (int, error) {
	result, err := s.client.FTSearchWithArgs(ctx, s.indexName, "*",
		&redis.FTSearchOptions{
			NoContent:      true,
			DialectVersion: redisDialectVersion,
		},
	).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cache entries")
	}

	return result.Total, nil
}

func (s *Redis) Clear(ctx context.Context) error {
	err := s.client.FTDropIndexWithArgs(ctx, s.indexName, &redis.FTDropIndexOptions{DeleteDocs: true}).Err()
	if err != nil && !isUnknownIndexError(err) {
		return errors.Wrap(err, "failed to drop index")
	}

	return s.createIndex(ctx)
}

func isUnknownIndexError(err error) bool {
	return err != nil && (err.Error() == "Unknown Index name" || err.Error() == "Unknown index name")
}
