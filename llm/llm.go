// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

// PostRole identifies the author of a post in a conversation.
type PostRole string

const (
	PostRoleUser   PostRole = "user"
	PostRoleBot    PostRole = "assistant"
	PostRoleSystem PostRole = "system"
)

// Post represents a single message in the conversation
type Post struct {
	Role    PostRole `json:"role"`
	Message string   `json:"message"`
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	Posts []Post `json:"posts"`
}

// UserCompletionRequest builds a single-turn request from a user query.
func UserCompletionRequest(query string) CompletionRequest {
	return CompletionRequest{
		Posts: []Post{
			{Role: PostRoleUser, Message: query},
		},
	}
}

type LanguageModelConfig struct {
	Model              string
	MaxGeneratedTokens int
}

// LanguageModelOption modifies the config of the language model call
type LanguageModelOption func(*LanguageModelConfig)

func WithModel(model string) LanguageModelOption {
	return func(cfg *LanguageModelConfig) {
		cfg.Model = model
	}
}

func WithMaxGeneratedTokens(maxGeneratedTokens int) LanguageModelOption {
	return func(cfg *LanguageModelConfig) {
		cfg.MaxGeneratedTokens = maxGeneratedTokens
	}
}

// LanguageModel is implemented by each upstream completion provider.
type LanguageModel interface {
	ChatCompletion(request CompletionRequest, opts ...LanguageModelOption) (*TextStreamResult, error)
	ChatCompletionNoStream(request CompletionRequest, opts ...LanguageModelOption) (string, error)
	CountTokens(text string) int
	InputTokenLimit() int
}
