// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package anthropic

import (
	"testing"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/semantic-cache/llm"
)

func TestConversationToMessages(t *testing.T) {
	tests := []struct {
		name           string
		posts          []llm.Post
		expectedSystem string
		expectedCount  int
	}{
		{
			name: "system prompt is separated",
			posts: []llm.Post{
				{Role: llm.PostRoleSystem, Message: "You are a helpful assistant."},
				{Role: llm.PostRoleUser, Message: "Hello!"},
			},
			expectedSystem: "You are a helpful assistant.",
			expectedCount:  1,
		},
		{
			name: "alternating roles",
			posts: []llm.Post{
				{Role: llm.PostRoleUser, Message: "Hello!"},
				{Role: llm.PostRoleBot, Message: "Hi there!"},
				{Role: llm.PostRoleUser, Message: "How are you?"},
			},
			expectedSystem: "",
			expectedCount:  3,
		},
		{
			name: "consecutive same-role messages are merged",
			posts: []llm.Post{
				{Role: llm.PostRoleUser, Message: "Hello!"},
				{Role: llm.PostRoleUser, Message: "Anyone there?"},
			},
			expectedSystem: "",
			expectedCount:  1,
		},
		{
			name: "unknown roles are skipped",
			posts: []llm.Post{
				{Role: llm.PostRole("tool"), Message: "ignored"},
				{Role: llm.PostRoleUser, Message: "kept"},
			},
			expectedSystem: "",
			expectedCount:  1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			system, messages := conversationToMessages(tc.posts)
			assert.Equal(t, tc.expectedSystem, system)
			assert.Len(t, messages, tc.expectedCount)
		})
	}

	t.Run("merged message keeps both blocks", func(t *testing.T) {
		_, messages := conversationToMessages([]llm.Post{
			{Role: llm.PostRoleUser, Message: "Hello!"},
			{Role: llm.PostRoleUser, Message: "Anyone there?"},
		})
		require.Len(t, messages, 1)
		assert.Equal(t, anthropicSDK.MessageParamRoleUser, messages[0].Role)
		assert.Len(t, messages[0].Content, 2)
	})
}

func TestGetDefaultConfig(t *testing.T) {
	t.Run("falls back to the package default token limit", func(t *testing.T) {
		a := &Anthropic{defaultModel: "claude-sonnet-4-20250514"}
		config := a.GetDefaultConfig()
		assert.Equal(t, "claude-sonnet-4-20250514", config.Model)
		assert.Equal(t, DefaultMaxTokens, config.MaxGeneratedTokens)
	})

	t.Run("honors the configured output token limit", func(t *testing.T) {
		a := &Anthropic{defaultModel: "model", outputTokenLimit: 4096}
		config := a.GetDefaultConfig()
		assert.Equal(t, 4096, config.MaxGeneratedTokens)
	})

	t.Run("options override defaults", func(t *testing.T) {
		a := &Anthropic{defaultModel: "model"}
		config := a.createConfig([]llm.LanguageModelOption{
			llm.WithModel("other-model"),
			llm.WithMaxGeneratedTokens(512),
		})
		assert.Equal(t, "other-model", config.Model)
		assert.Equal(t, 512, config.MaxGeneratedTokens)
	})
}

func TestInputTokenLimit(t *testing.T) {
	assert.Equal(t, 100000, (&Anthropic{}).InputTokenLimit())
	assert.Equal(t, 200000, (&Anthropic{inputTokenLimit: 200000}).InputTokenLimit())
}
