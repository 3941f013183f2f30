package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/accordo-ai/accordo/internal/auth"
	"github.com/accordo-ai/accordo/internal/config"
	"github.com/accordo-ai/accordo/internal/engine"
	"github.com/accordo-ai/accordo/internal/extraction"
	"github.com/accordo-ai/accordo/internal/patterns"
	"github.com/accordo-ai/accordo/internal/pref"
	"github.com/accordo-ai/accordo/internal/profile"
	"github.com/accordo-ai/accordo/internal/ratelimit"
	"github.com/accordo-ai/accordo/internal/server"
	"github.com/accordo-ai/accordo/internal/storage"
	"github.com/accordo-ai/accordo/internal/telemetry"
	"github.com/accordo-ai/accordo/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	issueTokenCaller := flag.String("issue-token", "", "mint a JWT for the given caller name and exit")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("ACCORDO_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if *issueTokenCaller != "" {
		if err := issueToken(*issueTokenCaller); err != nil {
			slog.Error("issue token", "error", err)
			return 1
		}
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// issueToken mints a signed JWT for operators and CI. It uses the same
// secret and expiration the server loads, so the resulting token is valid
// against a running instance with the same environment.
func issueToken(caller string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	token, expiresAt, err := jwtMgr.IssueToken(caller)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("accordo starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry. Disabled (no-op providers) when no endpoint
	// is configured.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Run embedded migrations. The runner tracks applied files in
	// schema_migrations and skips duplicates, so errors here indicate real
	// failures (not "already exists").
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Offer extraction chain: LLM first (when configured) with a bounded
	// timeout, rule-based fallback always available.
	var llm extraction.Extractor
	if cfg.LLMBaseURL != "" {
		llm = extraction.NewLLMExtractor(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.ExtractionTimeout)
		logger.Info("llm extractor: enabled", "model", cfg.LLMModel)
	} else {
		logger.Info("llm extractor: disabled (no ACCORDO_LLM_BASE_URL), rule-based only")
	}
	extractor := extraction.NewChain(llm, extraction.NewRuleExtractor(), cfg.ExtractionTimeout, logger)

	// Pattern index (optional — disabled if QDRANT_URL is empty; pgvector
	// remains authoritative either way).
	var searcher patterns.Searcher
	if cfg.QdrantURL != "" {
		qdrantIndex, err := patterns.NewQdrantIndex(patterns.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = qdrantIndex.Close() }()

		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		searcher = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}
	patternSvc := patterns.NewService(db, searcher, logger)

	// Rate limiter: Redis-backed when a shared Redis is configured (needed
	// for multi-instance deployments), in-memory token bucket otherwise.
	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitRPS > 0 {
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis: parse url: %w", err)
			}
			rdb := redis.NewClient(opts)
			defer func() { _ = rdb.Close() }()
			limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimitBurst, time.Second)
			logger.Info("rate limiter: redis", "burst", cfg.RateLimitBurst)
		} else {
			limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
			logger.Info("rate limiter: in-memory", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
		}
	} else {
		logger.Info("rate limiter: disabled")
	}
	defer func() { _ = limiter.Close() }()

	resolver := pref.NewResolver(db, db, logger)
	profiles := profile.NewUpdater(db, logger)
	eng := engine.New(db, resolver, extractor, patternSvc, profiles, logger)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Engine:              eng,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("accordo shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	return nil
}
