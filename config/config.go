// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/mattermost/semantic-cache/llm"
	"github.com/mattermost/semantic-cache/openai"
	"github.com/mattermost/semantic-cache/semanticcache"
)

// Vector store backends.
const (
	StoreTypePGVector = "pgvector"
	StoreTypeRedis    = "redis"
	StoreTypeMemory   = "memory"
)

// Embedding provider types. Besides the real providers a deterministic
// mock is available for local development without API credentials.
const (
	EmbeddingProviderMock = "mock"
)

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Type          string `json:"type"`
	DatabaseURL   string `json:"databaseURL"`
	RedisAddress  string `json:"redisAddress"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`
	RedisIndex    string `json:"redisIndex"`
}

// EmbeddingConfig selects the service used to generate query vectors.
type EmbeddingConfig struct {
	// Provider is either a service name from Services or "mock".
	Provider   string `json:"provider"`
	Dimensions int    `json:"dimensions"`
}

type ServerConfig struct {
	ListenAddress string `json:"listenAddress"`
	LogLevel      string `json:"logLevel"`
	EnableMetrics bool   `json:"enableMetrics"`
}

type Config struct {
	Services       []llm.ServiceConfig  `json:"services"`
	CompletionsLLM string               `json:"completionsLLM"`
	Embedding      EmbeddingConfig      `json:"embedding"`
	Store          StoreConfig          `json:"store"`
	Cache          semanticcache.Config `json:"cache"`
	Server         ServerConfig         `json:"server"`
}

func (c *Config) Clone() *Config {
	clone, err := DeepCopyJSON(*c)
	if err != nil {
		panic(fmt.Sprintf("failed to clone configuration: %v", err))
	}

	return &clone
}

// GetServiceByName returns the service configuration for the given name
func (c *Config) GetServiceByName(name string) (llm.ServiceConfig, bool) {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return c.Services[i], true
		}
	}
	return llm.ServiceConfig{}, false
}

func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreTypePGVector:
		if c.Store.DatabaseURL == "" {
			return errors.New("store.databaseURL is required for the pgvector store")
		}
	case StoreTypeRedis:
		if c.Store.RedisAddress == "" {
			return errors.New("store.redisAddress is required for the redis store")
		}
	case StoreTypeMemory:
	default:
		return errors.Errorf("unknown store type %q", c.Store.Type)
	}

	if c.CompletionsLLM != "" {
		service, ok := c.GetServiceByName(c.CompletionsLLM)
		if !ok {
			return errors.Errorf("completionsLLM %q does not match any configured service", c.CompletionsLLM)
		}
		if !llm.IsValidService(service) {
			return errors.Errorf("service %q is misconfigured for type %q", service.Name, service.Type)
		}
	}

	if c.Embedding.Provider != "" && c.Embedding.Provider != EmbeddingProviderMock {
		if _, ok := c.GetServiceByName(c.Embedding.Provider); !ok {
			return errors.Errorf("embedding.provider %q does not match any configured service", c.Embedding.Provider)
		}
	}

	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return errors.Errorf("cache.similarityThreshold must be in [0, 1], got %v", c.Cache.SimilarityThreshold)
	}

	if c.Cache.TopK < 0 {
		return errors.Errorf("cache.topK must not be negative, got %d", c.Cache.TopK)
	}

	return nil
}

// Load reads a JSON configuration file, filling in cache defaults for
// fields the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration file")
	}

	config := &Config{
		Store: StoreConfig{Type: StoreTypeMemory},
		Cache: semanticcache.DefaultConfig(),
	}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration file")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

type UpdateListener func()

type Container struct {
	cfg       atomic.Pointer[Config]
	listeners []UpdateListener
}

// Config returns the whole configuration readonly.
// Avoid using this method, prefer using config though interfaces.
func (c *Container) Config() *Config {
	return c.cfg.Load()
}

func (c *Container) CacheConfig() semanticcache.Config {
	return c.cfg.Load().Cache
}

func (c *Container) StoreConfig() StoreConfig {
	return c.cfg.Load().Store
}

// GetServiceByName returns the service configuration for the given name
func (c *Container) GetServiceByName(name string) (llm.ServiceConfig, bool) {
	cfg := c.cfg.Load()
	if cfg == nil {
		return llm.ServiceConfig{}, false
	}
	return cfg.GetServiceByName(name)
}

func (c *Container) RegisterUpdateListener(listener UpdateListener) {
	c.listeners = append(c.listeners, listener)
}

// Update replaces the current configuration.
// The new configuration is deep-copied to ensure the new and old
// configurations are independent of each other.
func (c *Container) Update(newConfig *Config) {
	if newConfig == nil {
		c.cfg.Store(nil)
		return
	}
	clone, err := DeepCopyJSON(*newConfig)
	if err != nil {
		panic(fmt.Sprintf("failed to deep copy configuration: %v", err))
	}

	c.cfg.Store(&clone)

	// Notify all listeners about the configuration change
	for _, listener := range c.listeners {
		listener()
	}
}

// DeepCopyJSON creates a deep copy of JSON-serializable structs
func DeepCopyJSON[T any](src T) (T, error) {
	var dst T
	data, err := json.Marshal(src)
	if err != nil {
		return dst, err
	}
	err = json.Unmarshal(data, &dst)
	return dst, err
}

func OpenAIConfigFromServiceConfig(serviceConfig llm.ServiceConfig) openai.Config {
	streamingTimeout := time.Second * 30
	if serviceConfig.StreamingTimeoutSeconds > 0 {
		streamingTimeout = time.Duration(serviceConfig.StreamingTimeoutSeconds) * time.Second
	}

	return openai.Config{
		APIKey:              serviceConfig.APIKey,
		APIURL:              serviceConfig.APIURL,
		OrgID:               serviceConfig.OrgID,
		DefaultModel:        serviceConfig.DefaultModel,
		InputTokenLimit:     serviceConfig.InputTokenLimit,
		OutputTokenLimit:    serviceConfig.OutputTokenLimit,
		StreamingTimeout:    streamingTimeout,
		EmbeddingModel:      serviceConfig.EmbeddingModel,
		EmbeddingDimensions: serviceConfig.EmbeddingDimensions,
	}
}
