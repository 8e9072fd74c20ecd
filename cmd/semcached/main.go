// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mattermost/semantic-cache/anthropic"
	"github.com/mattermost/semantic-cache/api"
	"github.com/mattermost/semantic-cache/bedrock"
	"github.com/mattermost/semantic-cache/config"
	"github.com/mattermost/semantic-cache/embeddings"
	"github.com/mattermost/semantic-cache/llm"
	"github.com/mattermost/semantic-cache/mcpserver"
	"github.com/mattermost/semantic-cache/metrics"
	"github.com/mattermost/semantic-cache/openai"
	"github.com/mattermost/semantic-cache/semanticcache"
	"github.com/mattermost/semantic-cache/vectorstore"
)

const version = "0.1.0"

var (
	configPath string
	transport  string
	listenAddr string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "semcached",
		Short: "Semantic cache for LLM completions",
		Long: `A semantic cache daemon that answers repeated questions from a vector
index instead of re-invoking the language model.

Queries are embedded, matched against previously answered queries by cosine
similarity, and served from the cache on a hit. Misses are answered by the
configured model and indexed for the next caller.`,
		Version: version,
		RunE:    runServer,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the JSON configuration file (required, or set SEMCACHE_CONFIG env var)")
	rootCmd.Flags().StringVar(&transport, "transport", "http", "Transport type (http or stdio)")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", "", "HTTP listen address, overrides server.listenAddress from the config")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if configPath == "" {
		configPath = os.Getenv("SEMCACHE_CONFIG")
		if configPath == "" {
			return fmt.Errorf("configuration file is required (use --config or SEMCACHE_CONFIG environment variable)")
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if !debug && cfg.Server.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.Server.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Server.LogLevel, err)
		}
		log.SetLevel(level)
	}

	if transport != "http" && transport != "stdio" {
		return fmt.Errorf("invalid transport type: %s (supported types: 'http', 'stdio')", transport)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to build embedding provider: %w", err)
	}

	store, err := buildStore(ctx, cfg, embedder.Dimensions())
	if err != nil {
		return fmt.Errorf("failed to build vector store: %w", err)
	}

	model, err := buildModel(cfg)
	if err != nil {
		return fmt.Errorf("failed to build language model: %w", err)
	}

	container := &config.Container{}
	container.Update(cfg)

	m := metrics.NewMetrics(metrics.InstanceInfo{Version: version})
	cache := semanticcache.New(embedder, store, model, cacheConfig(container), m, log)

	// SIGHUP re-reads the config file and pushes the new lookup policy to
	// the cache. Store, embedder, and model changes require a restart.
	container.RegisterUpdateListener(func() {
		cache.UpdateConfig(cacheConfig(container))
	})
	go watchConfigReload(ctx, container, log)

	switch transport {
	case "stdio":
		// MCP clients own stdout; keep logs on stderr.
		log.SetOutput(os.Stderr)
		return mcpserver.NewServer(cache, log).RunStdio(ctx)
	default:
		return serveHTTP(ctx, cfg, cache, m, log)
	}
}

func cacheConfig(container *config.Container) semanticcache.Config {
	cacheConfig := container.CacheConfig()
	cacheConfig.LLMName = container.Config().CompletionsLLM
	return cacheConfig
}

func watchConfigReload(ctx context.Context, container *config.Container, log *logrus.Logger) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			newConfig, err := config.Load(configPath)
			if err != nil {
				log.WithError(err).Error("configuration reload failed, keeping the previous configuration")
				continue
			}
			container.Update(newConfig)
			log.Info("configuration reloaded")
		}
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, cache *semanticcache.Cache, m metrics.Metrics, log *logrus.Logger) error {
	addr := listenAddr
	if addr == "" {
		addr = cfg.Server.ListenAddress
	}
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           api.New(cache, m, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("starting HTTP server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildEmbedder(cfg *config.Config) (embeddings.EmbeddingProvider, error) {
	if cfg.Embedding.Provider == "" || cfg.Embedding.Provider == config.EmbeddingProviderMock {
		return embeddings.NewMockEmbeddingProvider(cfg.Embedding.Dimensions), nil
	}

	service, ok := cfg.GetServiceByName(cfg.Embedding.Provider)
	if !ok {
		return nil, fmt.Errorf("embedding provider %q not found in services", cfg.Embedding.Provider)
	}

	if cfg.Embedding.Dimensions > 0 && service.EmbeddingDimensions == 0 {
		service.EmbeddingDimensions = cfg.Embedding.Dimensions
	}

	switch service.Type {
	case llm.ServiceTypeBedrock:
		return bedrock.NewEmbeddings(service, httpClient())
	case llm.ServiceTypeOpenAI:
		return openai.NewEmbeddings(config.OpenAIConfigFromServiceConfig(service), httpClient()), nil
	case llm.ServiceTypeOpenAICompatible:
		return openai.NewCompatibleEmbeddings(config.OpenAIConfigFromServiceConfig(service), httpClient()), nil
	default:
		return nil, fmt.Errorf("service type %q does not provide embeddings", service.Type)
	}
}

func buildStore(ctx context.Context, cfg *config.Config, dimensions int) (vectorstore.Store, error) {
	switch cfg.Store.Type {
	case config.StoreTypePGVector:
		db, err := sqlx.Open("postgres", cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		store := vectorstore.NewPgVector(db, dimensions)
		if err := store.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure pgvector index: %w", err)
		}
		return store, nil

	case config.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddress,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		indexName := cfg.Store.RedisIndex
		if indexName == "" {
			indexName = "semcache"
		}
		store := vectorstore.NewRedis(client, indexName, dimensions)
		if err := store.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure redis index: %w", err)
		}
		return store, nil

	case config.StoreTypeMemory:
		return vectorstore.NewMemory(dimensions), nil

	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

func buildModel(cfg *config.Config) (llm.LanguageModel, error) {
	if cfg.CompletionsLLM == "" {
		return nil, fmt.Errorf("completionsLLM is required")
	}

	service, ok := cfg.GetServiceByName(cfg.CompletionsLLM)
	if !ok {
		return nil, fmt.Errorf("completions service %q not found in services", cfg.CompletionsLLM)
	}

	switch service.Type {
	case llm.ServiceTypeBedrock:
		return bedrock.New(service, httpClient())
	case llm.ServiceTypeAnthropic:
		return anthropic.New(service, httpClient()), nil
	case llm.ServiceTypeOpenAI:
		return openai.New(config.OpenAIConfigFromServiceConfig(service), httpClient()), nil
	case llm.ServiceTypeOpenAICompatible:
		return openai.NewCompatible(config.OpenAIConfigFromServiceConfig(service), httpClient()), nil
	default:
		return nil, fmt.Errorf("unknown service type %q", service.Type)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}
