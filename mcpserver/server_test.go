// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package mcpserver

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/semantic-cache/embeddings"
	"github.com/mattermost/semantic-cache/llm"
	"github.com/mattermost/semantic-cache/semanticcache"
	"github.com/mattermost/semantic-cache/vectorstore"
)

const testDimensions = 16

type fakeLLM struct {
	response string
	calls    atomic.Int64
}

func (f *fakeLLM) ChatCompletion(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (*llm.TextStreamResult, error) {
	f.calls.Add(1)
	return llm.NewStreamFromString(f.response), nil
}

func (f *fakeLLM) ChatCompletionNoStream(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (string, error) {
	f.calls.Add(1)
	return f.response, nil
}

func (f *fakeLLM) CountTokens(text string) int { return len(text) / 4 }
func (f *fakeLLM) InputTokenLimit() int        { return 100000 }

func setupSession(t *testing.T) (*mcp.ClientSession, *fakeLLM) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	model := &fakeLLM{response: "Paris is the capital of France."}
	cache := semanticcache.New(
		embeddings.NewMockEmbeddingProvider(testDimensions),
		vectorstore.NewMemory(testDimensions),
		model,
		semanticcache.DefaultConfig(),
		nil,
		log,
	)

	server := NewServer(cache, log)

	ctx := context.Background()
	clientTransport := server.CreateInMemoryConnection(ctx)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session, model
}

func callToolText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)

	textContent, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return textContent.Text, result.IsError
}

func TestListTools(t *testing.T) {
	session, _ := setupSession(t)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"cached_completion", "cache_clear", "cache_stats"}, names)
}

func TestCachedCompletionTool(t *testing.T) {
	session, model := setupSession(t)

	text, isError := callToolText(t, session, "cached_completion", map[string]any{
		"query": "What is the capital of France?",
	})
	assert.False(t, isError)
	assert.Equal(t, "Paris is the capital of France.", text)
	assert.EqualValues(t, 1, model.calls.Load())

	// The identical query is answered from the cache.
	text, isError = callToolText(t, session, "cached_completion", map[string]any{
		"query": "What is the capital of France?",
	})
	assert.False(t, isError)
	assert.Equal(t, "Paris is the capital of France.", text)
	assert.EqualValues(t, 1, model.calls.Load())
}

func TestCachedCompletionToolEmptyQuery(t *testing.T) {
	session, model := setupSession(t)

	text, isError := callToolText(t, session, "cached_completion", map[string]any{
		"query": "",
	})
	assert.True(t, isError)
	assert.Contains(t, text, "query cannot be empty")
	assert.EqualValues(t, 0, model.calls.Load())
}

func TestCacheClearAndStatsTools(t *testing.T) {
	session, _ := setupSession(t)

	text, isError := callToolText(t, session, "cache_stats", nil)
	assert.False(t, isError)
	assert.Equal(t, "0 entries", text)

	_, isError = callToolText(t, session, "cached_completion", map[string]any{
		"query": "populate the cache",
	})
	assert.False(t, isError)

	text, isError = callToolText(t, session, "cache_stats", nil)
	assert.False(t, isError)
	assert.Equal(t, "1 entries", text)

	text, isError = callToolText(t, session, "cache_clear", nil)
	assert.False(t, isError)
	assert.Equal(t, "cache cleared", text)

	text, isError = callToolText(t, session, "cache_stats", nil)
	assert.False(t, isError)
	assert.Equal(t, "0 entries", text)
}
