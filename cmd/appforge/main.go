package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/appforge/internal/cache"
	"github.com/p-blackswan/appforge/internal/codegen"
	"github.com/p-blackswan/appforge/internal/config"
	"github.com/p-blackswan/appforge/internal/controller"
	"github.com/p-blackswan/appforge/internal/health"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/metrics"
	"github.com/p-blackswan/appforge/internal/orchestrator"
	"github.com/p-blackswan/appforge/internal/persist"
	"github.com/p-blackswan/appforge/internal/prompts"
	"github.com/p-blackswan/appforge/internal/retry"
	"github.com/p-blackswan/appforge/internal/reviewer"
	"github.com/p-blackswan/appforge/internal/server"
	"github.com/p-blackswan/appforge/internal/store"
	"github.com/p-blackswan/appforge/internal/telemetry"
)

const (
	retentionInterval = 6 * time.Hour
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPAddr).
		Str("store", cfg.StoreDriver).
		Str("cache_remote", cfg.CacheRemote).
		Bool("llm_enabled", cfg.LLMEnabled()).
		Bool("tracing_enabled", cfg.TracingEnabled()).
		Msg("starting appforge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	m := metrics.New()
	checker := health.NewChecker(logger)

	// Project store
	var (
		projectStore persist.Store
		lister       server.FileLister
		sqliteStore  *store.Store
		closers      []func() error
	)
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
			}
		}
		sqliteStore, err = store.New(cfg.SQLitePath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open sqlite store")
		}
		sqliteStore.StartRetention(ctx, retentionInterval)
		projectStore, lister = sqliteStore, sqliteStore
		checker.Register("store", checker.PingCheck("store", sqliteStore, health.StatusDown))
		closers = append(closers, sqliteStore.Close)

	case config.StorePostgres:
		pg, err := persist.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to create postgres schema")
		}
		projectStore, lister = pg, pg
		checker.Register("store", checker.PingCheck("store", pg, health.StatusDown))
		closers = append(closers, pg.Close)

	default:
		logger.Warn().Msg("persistence disabled, generated projects are not stored")
	}

	// Schema cache
	cacheOpts := []cache.Option{cache.WithObserver(m), cache.WithLogger(logger)}
	switch cfg.CacheRemote {
	case config.CacheRemoteSQLite:
		cacheOpts = append(cacheOpts, cache.WithRemote(sqliteStore))
	case config.CacheRemoteMongo:
		mongoStore, err := cache.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to mongo")
		}
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to create cache indexes")
		}
		cacheOpts = append(cacheOpts, cache.WithRemote(mongoStore))
		checker.Register("cache", checker.PingCheck("cache", mongoStore, health.StatusDegraded))
		closers = append(closers, func() error {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			return mongoStore.Close(closeCtx)
		})
	}
	schemaCache := cache.New(cfg.CacheCapacity, cfg.CacheTTL, cacheOpts...)

	// Prompt rulebooks
	rules := prompts.Default()
	if cfg.PromptsFile != "" {
		rules, err = prompts.Load(cfg.PromptsFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PromptsFile).Msg("failed to load prompts")
		}
	}

	// LLM provider with retry and model fallback
	if !cfg.LLMEnabled() {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set, planning and review will fail; codegen mode with a complete schema still works")
	}
	anthropic := llm.NewAnthropicProvider(cfg.AnthropicAPIKey,
		llm.WithModel(cfg.LLMModel),
		llm.WithMaxTokens(cfg.LLMMaxTokens),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
		llm.WithLogger(logger),
	)
	provider := retry.NewProvider(anthropic, retry.Config{
		MaxRetries: cfg.RetryCount(),
		Delays:     cfg.RetryDelays,
		Jitter:     true,
	}, logger, retry.WithFallbackModel(cfg.LLMFallbackModel), retry.WithHooks(m.RetryHooks()))

	opts := []orchestrator.Option{
		orchestrator.WithCache(schemaCache),
		orchestrator.WithStore(projectStore),
		orchestrator.WithPrompts(rules),
		orchestrator.WithObserver(m),
		orchestrator.WithLogger(logger),
		orchestrator.WithReviewDefault(cfg.ReviewEnabled),
	}
	if cfg.LLMEnabled() {
		opts = append(opts, orchestrator.WithReviewer(reviewer.New(provider,
			reviewer.WithPrompts(rules), reviewer.WithLogger(logger))))
	}
	orch := orchestrator.New(
		controller.New(provider, controller.WithPrompts(rules), controller.WithLogger(logger)),
		codegen.New(provider, codegen.WithPrompts(rules), codegen.WithLogger(logger), codegen.WithMaxTokens(cfg.LLMMaxTokens)),
		opts...,
	)

	srv := server.New(server.Config{
		Addr: cfg.HTTPAddr,
		Auth: server.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit:   server.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		CORSOrigins: cfg.CORSOrigins,
	}, server.NewHandlers(orch, lister, logger), checker, m, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	cancel()
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn().Err(err).Msg("close error")
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown error")
	}

	logger.Info().Msg("appforge stopped")
}
