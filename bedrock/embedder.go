// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package bedrock

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/pkg/errors"

	"github.com/mattermost/semantic-cache/llm"
)

const (
	DefaultEmbeddingModel      = "amazon.titan-embed-text-v2:0"
	DefaultEmbeddingDimensions = 1024
)

// titanEmbeddingRequest is the InvokeModel body for Titan text embeddings.
type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embeddings generates vectors with a Titan embedding model over the
// Bedrock InvokeModel API.
type Embeddings struct {
	client     *bedrockruntime.Client
	model      string
	dimensions int
}

func NewEmbeddings(llmService llm.ServiceConfig, httpClient *http.Client) (*Embeddings, error) {
	client, err := newRuntimeClient(llmService, httpClient)
	if err != nil {
		return nil, err
	}

	model := llmService.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dimensions := llmService.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}

	return &Embeddings{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}, nil
}

func (e *Embeddings) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	body, err := json.Marshal(titanEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal embedding request")
	}

	output, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to invoke embedding model")
	}

	embedding, err := parseEmbeddingResponse(output.Body)
	if err != nil {
		return nil, err
	}

	if len(embedding) != e.dimensions {
		return nil, errors.Errorf("embedding model returned %d dimensions, expected %d", len(embedding), e.dimensions)
	}

	return embedding, nil
}

func (e *Embeddings) BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	// Titan has no batch endpoint; issue one InvokeModel per text.
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := e.CreateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}

	return embeddings, nil
}

func (e *Embeddings) Dimensions() int {
	return e.dimensions
}

func parseEmbeddingResponse(body []byte) ([]float32, error) {
	var response titanEmbeddingResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "malformed embedding response")
	}

	if len(response.Embedding) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return response.Embedding, nil
}
