// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package embeddings defines the embedding provider contract used by the
// semantic cache. Providers turn query text into fixed-dimension vectors;
// every vector written to a store must come from the same provider, since
// mixing embedding models silently breaks nearest-neighbor distances.
package embeddings

import "context"

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
