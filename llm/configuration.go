// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

const (
	ServiceTypeOpenAI           = "openai"
	ServiceTypeOpenAICompatible = "openaicompatible"
	ServiceTypeAnthropic        = "anthropic"
	ServiceTypeBedrock          = "bedrock"
)

type ServiceConfig struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	APIKey       string `json:"apiKey"`
	OrgID        string `json:"orgId"`
	DefaultModel string `json:"defaultModel"`
	APIURL       string `json:"apiURL"`

	// Bedrock only. When AWSAccessKeyID/AWSSecretAccessKey are empty and
	// APIKey is set, the key is sent as a bearer token; otherwise the SDK
	// default credential chain applies.
	Region             string `json:"region"`
	AWSAccessKeyID     string `json:"awsAccessKeyID"`
	AWSSecretAccessKey string `json:"awsSecretAccessKey"`

	InputTokenLimit         int `json:"inputTokenLimit"`
	OutputTokenLimit        int `json:"outputTokenLimit"`
	StreamingTimeoutSeconds int `json:"streamingTimeoutSeconds"`

	EmbeddingModel      string `json:"embeddingModel"`
	EmbeddingDimensions int    `json:"embeddingDimensions"`
}

// IsValidService validates a service configuration
func IsValidService(service ServiceConfig) bool {
	switch service.Type {
	case ServiceTypeOpenAI, ServiceTypeAnthropic:
		return service.APIKey != ""
	case ServiceTypeOpenAICompatible:
		return service.APIURL != ""
	case ServiceTypeBedrock:
		return service.Region != ""
	}
	return false
}
