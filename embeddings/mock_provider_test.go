// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbeddingProvider(t *testing.T) {
	t.Run("produces repeatable vectors of the requested dimension", func(t *testing.T) {
		provider := NewMockEmbeddingProvider(256)
		assert.Equal(t, 256, provider.Dimensions())

		first, err := provider.CreateEmbedding(context.Background(), "what is the capital of France?")
		require.NoError(t, err)
		require.Len(t, first, 256)

		second, err := provider.CreateEmbedding(context.Background(), "what is the capital of France?")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("different text produces different vectors", func(t *testing.T) {
		provider := NewMockEmbeddingProvider(64)

		a, err := provider.CreateEmbedding(context.Background(), "capital of France")
		require.NoError(t, err)
		b, err := provider.CreateEmbedding(context.Background(), "weather in Tokyo")
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("defaults dimensions when non-positive", func(t *testing.T) {
		provider := NewMockEmbeddingProvider(0)
		assert.Equal(t, defaultMockDimensions, provider.Dimensions())
	})

	t.Run("batch matches single embeddings", func(t *testing.T) {
		provider := NewMockEmbeddingProvider(32)

		batch, err := provider.BatchCreateEmbeddings(context.Background(), []string{"one", "two"})
		require.NoError(t, err)
		require.Len(t, batch, 2)

		one, err := provider.CreateEmbedding(context.Background(), "one")
		require.NoError(t, err)
		assert.Equal(t, one, batch[0])
	})
}
