// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// SQL schema constants to prevent SQL injection via dynamic construction
const (
	pgTableName          = "semantic_cache"
	pgColumnID           = "id"
	pgColumnQuery        = "query"
	pgColumnQueryVectors = "query_vectors"
	pgColumnResponse     = "response"
	pgColumnCreateDate   = "create_date"
	pgColumnTTL          = "ttl"
	pgIndexVectors       = "semantic_cache_query_vectors_idx"
)

// PgVector is a Store backed by Postgres with the pgvector extension.
// Similarity is cosine (1 - cosine distance) over an HNSW index.
type PgVector struct {
	db         *sqlx.DB
	dimensions int
	builder    sq.StatementBuilderType
}

func NewPgVector(db *sqlx.DB, dimensions int) *PgVector {
	return &PgVector{
		db:         db,
		dimensions: dimensions,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureIndex provisions the cache table and HNSW index. If the table
// already exists with a different vector dimension it is dropped and
// recreated, since distances across embedding models are meaningless.
func (s *PgVector) EnsureIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(err, "failed to create vector extension")
	}

	var currentDimensions int
	err := s.db.QueryRowxContext(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		JOIN pg_type t ON a.atttypid = t.oid
		WHERE c.relname = $1
		AND a.attname = $2
		AND t.typname = 'vector'
	`, pgTableName, pgColumnQueryVectors).Scan(&currentDimensions)

	if err == nil && currentDimensions != s.dimensions {
		if _, dropErr := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pgTableName)); dropErr != nil {
			return errors.Wrap(dropErr, "failed to drop table with stale dimensions")
		}
	} else if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to inspect existing index")
	}

	// Table and column names cannot be parameterized in PostgreSQL,
	// so we use Go constants defined at package level to ensure safety
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		%s TEXT PRIMARY KEY,
		%s TEXT NOT NULL,
		%s VECTOR(%d) NOT NULL,
		%s TEXT NOT NULL,
		%s TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		%s INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS %s
		ON %s USING hnsw (%s vector_cosine_ops);
	`,
		pgTableName,
		pgColumnID, pgColumnQuery, pgColumnQueryVectors, s.dimensions,
		pgColumnResponse, pgColumnCreateDate, pgColumnTTL,
		pgIndexVectors, pgTableName, pgColumnQueryVectors,
	)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}

	return nil
}

func (s *PgVector) Index(ctx context.Context, entry CacheEntry) error {
	if len(entry.QueryVector) != s.dimensions {
		return errors.Wrapf(ErrVectorDimension, "got %d, index has %d", len(entry.QueryVector), s.dimensions)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query, args, err := s.builder.
		Insert(pgTableName).
		Columns(pgColumnID, pgColumnQuery, pgColumnQueryVectors, pgColumnResponse, pgColumnCreateDate, pgColumnTTL).
		Values(entry.ID, entry.Query, pgvector.NewVector(entry.QueryVector), entry.Response, entry.CreatedAt, entry.TTL).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build insert")
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to index cache entry")
	}

	return nil
}

type pgSearchRow struct {
	ID         string    `db:"id"`
	Query      string    `db:"query"`
	Response   string    `db:"response"`
	CreateDate time.Time `db:"create_date"`
	TTL        int       `db:"ttl"`
	Score      float32   `db:"score"`
}

func (s *PgVector) KNNSearch(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if len(vector) != s.dimensions {
		return nil, errors.Wrapf(ErrVectorDimension, "got %d, index has %d", len(vector), s.dimensions)
	}

	// The vector operators are not expressible through the query builder.
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s,
			1 - (%s <=> $1) AS score
		FROM %s
		WHERE %s <= 0 OR %s + make_interval(secs => %s) > NOW()
		ORDER BY %s <=> $1 ASC
		LIMIT $2`,
		pgColumnID, pgColumnQuery, pgColumnResponse, pgColumnCreateDate, pgColumnTTL,
		pgColumnQueryVectors,
		pgTableName,
		pgColumnTTL, pgColumnCreateDate, pgColumnTTL,
		pgColumnQueryVectors,
	)

	var rows []pgSearchRow
	if err := s.db.SelectContext(ctx, &rows, query, pgvector.NewVector(vector), k); err != nil {
		return nil, errors.Wrap(err, "knn search failed")
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, SearchResult{
			Entry: CacheEntry{
				ID:        row.ID,
				Query:     row.Query,
				Response:  row.Response,
				CreatedAt: row.CreateDate,
				TTL:       row.TTL,
			},
			Score: row.Score,
		})
	}

	return results, nil
}

func (s *PgVector) Count(ctx context.Context) (int, error) {
	query, args, err := s.builder.
		Select("COUNT(*)").
		From(pgTableName).
		Where(sq.Or{
			sq.LtOrEq{pgColumnTTL: 0},
			sq.Expr(fmt.Sprintf("%s + make_interval(secs => %s) > NOW()", pgColumnCreateDate, pgColumnTTL)),
		}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "failed to build count")
	}

	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.Wrap(err, "failed to count cache entries")
	}

	return count, nil
}

func (s *PgVector) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pgTableName)); err != nil {
		return errors.Wrap(err, "failed to drop cache table")
	}

	return s.EnsureIndex(ctx)
}
