// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package bedrock

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/auth/bearer"

	"github.com/mattermost/semantic-cache/llm"
)

const DefaultMaxTokens = 8192

type Bedrock struct {
	client           *bedrockruntime.Client
	defaultModel     string
	inputTokenLimit  int
	outputTokenLimit int
	region           string
}

func New(llmService llm.ServiceConfig, httpClient *http.Client) (*Bedrock, error) {
	client, err := newRuntimeClient(llmService, httpClient)
	if err != nil {
		return nil, err
	}

	return &Bedrock{
		client:           client,
		defaultModel:     llmService.DefaultModel,
		inputTokenLimit:  llmService.InputTokenLimit,
		outputTokenLimit: llmService.OutputTokenLimit,
		region:           llmService.Region,
	}, nil
}

// newRuntimeClient builds a bedrockruntime client honoring the credential
// priority: IAM credentials > Bearer token (API Key) > Default credential chain.
func newRuntimeClient(llmService llm.ServiceConfig, httpClient *http.Client) (*bedrockruntime.Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(llmService.Region),
		config.WithHTTPClient(httpClient),
	}

	var clientOpts []func(*bedrockruntime.Options)

	if llmService.AWSAccessKeyID != "" && llmService.AWSSecretAccessKey != "" {
		// Static IAM credentials for standard AWS SigV4 signing
		configOpts = append(configOpts, config.WithCredentialsProvider(
			aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(
					llmService.AWSAccessKeyID,
					llmService.AWSSecretAccessKey,
					"", // No session token for long-term credentials
				),
			),
		))
	} else if llmService.APIKey != "" {
		// Bedrock console API key (bearer token). Disable default
		// credentials to force bearer token authentication.
		configOpts = append(configOpts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))

		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.Credentials = aws.AnonymousCredentials{}

			o.BearerAuthTokenProvider = bearer.TokenProviderFunc(func(ctx context.Context) (bearer.Token, error) {
				return bearer.Token{Value: llmService.APIKey}, nil
			})

			o.AuthSchemePreference = []string{"httpBearerAuth"}
		})
	}
	// With no explicit credentials the SDK falls back to its default chain
	// (environment variables, IAM role, etc.)

	cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom base endpoint for proxies and VPC endpoints
	if llmService.APIURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(llmService.APIURL)
		})
	}

	return bedrockruntime.NewFromConfig(cfg, clientOpts...), nil
}

// conversationToMessages creates a system prompt and a slice of messages from conversation posts.
func conversationToMessages(posts []llm.Post) ([]types.SystemContentBlock, []types.Message) {
	var systemBlocks []types.SystemContentBlock
	messages := make([]types.Message, 0, len(posts))

	var currentBlocks []types.ContentBlock
	var currentRole types.ConversationRole

	flushCurrentMessage := func() {
		if len(currentBlocks) > 0 {
			messages = append(messages, types.Message{
				Role:    currentRole,
				Content: currentBlocks,
			})
			currentBlocks = nil
		}
	}

	for _, post := range posts {
		switch post.Role {
		case llm.PostRoleSystem:
			// System messages go in a separate array
			systemBlocks = append(systemBlocks, &types.SystemContentBlockMemberText{
				Value: post.Message,
			})
			continue
		case llm.PostRoleBot:
			if currentRole != types.ConversationRoleAssistant {
				flushCurrentMessage()
				currentRole = types.ConversationRoleAssistant
			}
		case llm.PostRoleUser:
			if currentRole != types.ConversationRoleUser {
				flushCurrentMessage()
				currentRole = types.ConversationRoleUser
			}
		default:
			continue
		}

		if post.Message != "" {
			currentBlocks = append(currentBlocks, &types.ContentBlockMemberText{
				Value: post.Message,
			})
		}
	}

	flushCurrentMessage()
	return systemBlocks, messages
}

func (b *Bedrock) GetDefaultConfig() llm.LanguageModelConfig {
	config := llm.LanguageModelConfig{
		Model: b.defaultModel,
	}
	if b.outputTokenLimit == 0 {
		config.MaxGeneratedTokens = DefaultMaxTokens
	} else {
		config.MaxGeneratedTokens = b.outputTokenLimit
	}
	return config
}

func (b *Bedrock) createConfig(opts []llm.LanguageModelOption) llm.LanguageModelConfig {
	cfg := b.GetDefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (b *Bedrock) streamChat(cfg llm.LanguageModelConfig, system []types.SystemContentBlock, messages []types.Message, output chan<- llm.TextStreamEvent) {
	params := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(cfg.Model),
		Messages: messages,
	}

	// Only include system messages if non-empty
	if len(system) > 0 {
		params.System = system
	}

	// Check for overflow to avoid int -> int32 conversion issues
	maxTokens := cfg.MaxGeneratedTokens
	if maxTokens > 2147483647 { // math.MaxInt32
		output <- llm.TextStreamEvent{
			Type:  llm.EventTypeError,
			Value: fmt.Errorf("max token value (%d) exceeds int32 maximum", maxTokens),
		}
		return
	}
	params.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)), //nolint:gosec // G115: Overflow checked above
	}

	stream, err := b.client.ConverseStream(context.Background(), params)
	if err != nil {
		output <- llm.TextStreamEvent{
			Type:  llm.EventTypeError,
			Value: fmt.Errorf("error starting stream: %w", err),
		}
		return
	}

	eventStream := stream.GetStream()
	defer eventStream.Close()

	for {
		event, ok := <-eventStream.Events()
		if !ok {
			break
		}

		switch e := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if e.Value.Delta != nil {
				if delta, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					output <- llm.TextStreamEvent{
						Type:  llm.EventTypeText,
						Value: delta.Value,
					}
				}
			}

		case *types.ConverseStreamOutputMemberMetadata:
			if e.Value.Usage != nil {
				usage := llm.TokenUsage{
					InputTokens:  int64(aws.ToInt32(e.Value.Usage.InputTokens)),
					OutputTokens: int64(aws.ToInt32(e.Value.Usage.OutputTokens)),
				}
				output <- llm.TextStreamEvent{
					Type:  llm.EventTypeUsage,
					Value: usage,
				}
			}
		}
	}

	if err := eventStream.Err(); err != nil {
		output <- llm.TextStreamEvent{
			Type:  llm.EventTypeError,
			Value: fmt.Errorf("error from bedrock stream: %w", err),
		}
		return
	}

	output <- llm.TextStreamEvent{
		Type:  llm.EventTypeEnd,
		Value: nil,
	}
}

func (b *Bedrock) ChatCompletion(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (*llm.TextStreamResult, error) {
	eventStream := make(chan llm.TextStreamEvent)

	cfg := b.createConfig(opts)
	system, messages := conversationToMessages(request.Posts)

	go func() {
		defer close(eventStream)
		b.streamChat(cfg, system, messages, eventStream)
	}()

	return &llm.TextStreamResult{Stream: eventStream}, nil
}

func (b *Bedrock) ChatCompletionNoStream(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (string, error) {
	// This could perform better if we didn't use the streaming API here, but the complexity is not worth it.
	result, err := b.ChatCompletion(request, opts...)
	if err != nil {
		return "", err
	}
	return result.ReadAll()
}

func (b *Bedrock) CountTokens(text string) int {
	// Bedrock doesn't provide a token counting API
	// Approximate using character and word counts
	charCount := float64(len(text)) / 4.0
	wordCount := float64(len(strings.Fields(text))) / 0.75

	// Average the two
	return int((charCount + wordCount) / 2.0)
}

func (b *Bedrock) InputTokenLimit() int {
	if b.inputTokenLimit > 0 {
		return b.inputTokenLimit
	}
	// Conservative default. Configure inputTokenLimit in the service
	// config for the specific model.
	return 200000
}
