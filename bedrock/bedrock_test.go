// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/semantic-cache/llm"
)

func TestConversationToMessages(t *testing.T) {
	t.Run("system and user messages", func(t *testing.T) {
		posts := []llm.Post{
			{Role: llm.PostRoleSystem, Message: "You are a helpful assistant."},
			{Role: llm.PostRoleUser, Message: "Hello!"},
		}

		system, messages := conversationToMessages(posts)

		require.Len(t, system, 1)
		require.Len(t, messages, 1)

		systemText, ok := system[0].(*types.SystemContentBlockMemberText)
		require.True(t, ok)
		assert.Equal(t, "You are a helpful assistant.", systemText.Value)

		assert.Equal(t, types.ConversationRoleUser, messages[0].Role)
		require.Len(t, messages[0].Content, 1)
		contentText, ok := messages[0].Content[0].(*types.ContentBlockMemberText)
		require.True(t, ok)
		assert.Equal(t, "Hello!", contentText.Value)
	})

	t.Run("alternating user and assistant messages", func(t *testing.T) {
		posts := []llm.Post{
			{Role: llm.PostRoleUser, Message: "Hello!"},
			{Role: llm.PostRoleBot, Message: "Hi there!"},
			{Role: llm.PostRoleUser, Message: "How are you?"},
			{Role: llm.PostRoleBot, Message: "I'm doing well!"},
		}

		system, messages := conversationToMessages(posts)

		require.Len(t, system, 0)
		require.Len(t, messages, 4)

		assert.Equal(t, types.ConversationRoleUser, messages[0].Role)
		assert.Equal(t, types.ConversationRoleAssistant, messages[1].Role)
		assert.Equal(t, types.ConversationRoleUser, messages[2].Role)
		assert.Equal(t, types.ConversationRoleAssistant, messages[3].Role)
	})

	t.Run("consecutive same-role messages are merged", func(t *testing.T) {
		posts := []llm.Post{
			{Role: llm.PostRoleUser, Message: "Hello!"},
			{Role: llm.PostRoleUser, Message: "Anyone there?"},
		}

		system, messages := conversationToMessages(posts)

		require.Len(t, system, 0)
		require.Len(t, messages, 1)

		assert.Equal(t, types.ConversationRoleUser, messages[0].Role)
		require.Len(t, messages[0].Content, 2)
	})

	t.Run("unknown roles are skipped", func(t *testing.T) {
		posts := []llm.Post{
			{Role: llm.PostRole("tool"), Message: "ignored"},
			{Role: llm.PostRoleUser, Message: "kept"},
		}

		system, messages := conversationToMessages(posts)

		require.Len(t, system, 0)
		require.Len(t, messages, 1)
		require.Len(t, messages[0].Content, 1)
	})
}

func TestGetDefaultConfig(t *testing.T) {
	t.Run("falls back to the package default token limit", func(t *testing.T) {
		b := &Bedrock{defaultModel: "anthropic.claude-3-5-sonnet-20240620-v1:0"}
		config := b.GetDefaultConfig()
		assert.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", config.Model)
		assert.Equal(t, DefaultMaxTokens, config.MaxGeneratedTokens)
	})

	t.Run("honors the configured output token limit", func(t *testing.T) {
		b := &Bedrock{defaultModel: "model", outputTokenLimit: 2048}
		config := b.GetDefaultConfig()
		assert.Equal(t, 2048, config.MaxGeneratedTokens)
	})

	t.Run("options override defaults", func(t *testing.T) {
		b := &Bedrock{defaultModel: "model"}
		config := b.createConfig([]llm.LanguageModelOption{
			llm.WithModel("other-model"),
			llm.WithMaxGeneratedTokens(512),
		})
		assert.Equal(t, "other-model", config.Model)
		assert.Equal(t, 512, config.MaxGeneratedTokens)
	})
}

func TestCountTokens(t *testing.T) {
	b := &Bedrock{}

	assert.Equal(t, 0, b.CountTokens(""))
	assert.Greater(t, b.CountTokens("The quick brown fox jumps over the lazy dog"), 5)
}

func TestParseEmbeddingResponse(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		embedding, err := parseEmbeddingResponse([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, embedding)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := parseEmbeddingResponse([]byte(`{"embedding": [0.1,`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed embedding response")
	})

	t.Run("missing embedding field", func(t *testing.T) {
		_, err := parseEmbeddingResponse([]byte(`{"somethingElse": true}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no embedding data returned")
	})
}
