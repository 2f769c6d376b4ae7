// Package main provides the Answer Engine API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/altaterra-ai/answer-engine/internal/cache"
	"github.com/altaterra-ai/answer-engine/internal/config"
	"github.com/altaterra-ai/answer-engine/internal/embedding"
	"github.com/altaterra-ai/answer-engine/internal/llm"
	"github.com/altaterra-ai/answer-engine/internal/memory"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/reinforce"
	"github.com/altaterra-ai/answer-engine/internal/resolve"
	"github.com/altaterra-ai/answer-engine/internal/storage"
	"github.com/altaterra-ai/answer-engine/internal/vector"
)

func main() {
	// Local .env files are optional
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "answer-engine-api",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("vector", cfg.Vector.Adapter).
		Msg("Starting Answer Engine API")

	ctx := context.Background()

	// Relational store
	db, err := storage.Open(ctx, storage.OpenOptions{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.DatabaseDSN(),
		MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.EnsureSchema(ctx, db); err != nil {
		logger.Error().Err(err).Msg("Failed to ensure schema")
		os.Exit(1)
	}
	repos := storage.NewRepositories(db)

	// Key-value cache: redis when configured, in-memory otherwise
	var kv cache.Client
	if cfg.Redis.Addr != "" {
		redisClient, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory cache")
		} else {
			kv = redisClient
		}
	}
	if kv == nil {
		kv = cache.NewMemoryClient(10000)
	}
	defer kv.Close()

	// Vector index
	var index vector.Index
	if cfg.Vector.Adapter == "http" {
		index, err = vector.NewHTTPIndex(vector.HTTPConfig{
			BaseURL: cfg.Vector.BaseURL,
			APIKey:  cfg.Vector.APIKey,
			Timeout: cfg.Vector.Timeout,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create vector index client")
			os.Exit(1)
		}
	} else {
		index = vector.NewMemoryIndex(0)
	}
	defer index.Close()

	// Model provider clients; mocks keep dev mode usable without keys
	var embedder embedding.Embedder
	var model llm.Generator
	if cfg.LLM.APIKey != "" {
		embedder, err = embedding.NewClient(embedding.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.LLM.Timeout,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create embedding client")
			os.Exit(1)
		}
		model, err = llm.NewClient(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.LLM.Timeout,
			Logger:  logger,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create LLM client")
			os.Exit(1)
		}
	} else {
		logger.Warn().Msg("No LLM API key configured, using mock model clients")
		embedder = embedding.NewMockClient(768)
		model = llm.NewMockGenerator("Lo siento, el motor de respuestas está en modo de desarrollo.")
	}

	notes := memory.NewStore(kv, 0)

	semanticCache := resolve.NewSemanticCache(repos.CacheEntries, repos.Feedback, index, embedder, logger, resolve.SemanticCacheConfig{
		SimilarityThreshold: cfg.Resolution.SimilarityThreshold,
		TTL:                 cfg.Resolution.CacheTTL,
		MaxPerScope:         cfg.Resolution.CacheMaxPerScope,
	})
	learned := resolve.NewLearned(repos.LearnedResponses, logger, cfg.Resolution.LearnedScoreThreshold)
	generator := resolve.NewGenerator(model, index, embedder, notes, logger, resolve.GeneratorConfig{
		TopK:                cfg.Resolution.TopK,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		ImportanceThreshold: cfg.Resolution.MemoryImportanceThreshold,
	})
	dispatcher := resolve.NewDispatcher(semanticCache, learned, generator, repos.QueryLogs, logger)

	job := reinforce.NewJob(repos.Feedback, repos.LearnedResponses, logger, reinforce.Config{
		Window:         cfg.Reinforce.Window,
		MaxConcurrency: cfg.Reinforce.MaxConcurrency,
	})

	router := NewRouter(logger, cfg, &Services{
		DB:         db,
		Cache:      kv,
		Repos:      repos,
		Dispatcher: dispatcher,
		Reinforce:  job,
		Notes:      notes,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Expired cache rows are swept in the background
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepExpired(sweepCtx, semanticCache, logger)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}

func sweepExpired(ctx context.Context, sc *resolve.SemanticCache, logger *observability.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sc.PurgeExpired(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Expired cache sweep failed")
			} else if removed > 0 {
				logger.Info().Int("removed", removed).Msg("Swept expired cache entries")
			}
		}
	}
}
