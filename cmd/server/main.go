// GROW Coach - coaching session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/grow-coach/internal/api"
	"github.com/ashureev/grow-coach/internal/coaching"
	"github.com/ashureev/grow-coach/internal/config"
	"github.com/ashureev/grow-coach/internal/identity"
	"github.com/ashureev/grow-coach/internal/llm"
	"github.com/ashureev/grow-coach/internal/middleware"
	"github.com/ashureev/grow-coach/internal/session"
	"github.com/ashureev/grow-coach/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"cache", cfg.Cache.Backend, "provider", cfg.LLM.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	checks := map[string]api.Pinger{"database": repo}

	var cache session.Cache
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		rc := session.NewRedisCache(client, cfg.Cache.TTL, logger)
		defer func() {
			if closeErr := rc.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		if err := rc.Ping(ctx); err != nil {
			slog.Error("Redis health check failed", "addr", cfg.Cache.RedisAddr, "error", err)
			os.Exit(1)
		}
		slog.Info("Redis session cache connected", "addr", cfg.Cache.RedisAddr, "ttl", cfg.Cache.TTL)
		cache = rc
		checks["cache"] = rc
	default:
		mc, err := session.NewMemoryCache(cfg.Cache.MaxSessions)
		if err != nil {
			slog.Error("Failed to initialize session cache", "error", err)
			os.Exit(1)
		}
		slog.Info("In-memory session cache ready", "max_sessions", cfg.Cache.MaxSessions)
		cache = mc
	}

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize generator", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(1)
	}

	// Initialize services.
	sessions := session.NewManager(repo, cache, session.WithLogger(logger))
	svc, err := coaching.NewService(sessions, repo, gen, coaching.Config{
		GenerateTimeout:    cfg.LLM.Timeout,
		PromptHistoryLimit: cfg.LLM.HistoryLimit,
		SummaryCacheSize:   cfg.SummaryCacheSize,
		Logger:             logger,
	})
	if err != nil {
		slog.Error("Failed to initialize coaching service", "error", err)
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Close()

	var verifier identity.Verifier = identity.NewStaticVerifier(cfg.Auth.Tokens)
	if cfg.Auth.DevMode {
		slog.Warn("Auth dev mode enabled: dev-<user> tokens and anonymous identities are accepted")
		verifier = identity.NewDevVerifier(verifier)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(logger)
	healthHandler := api.NewHealthHandler(checks)
	coachHandler := api.NewCoachHandler(baseHandler, svc, limiter)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier, identity.Options{
			AllowAnonymous: cfg.Auth.DevMode,
			SecureCookie:   !cfg.IsDevelopment(),
		}))
		coachHandler.RegisterRoutes(r)
	})

	// WriteTimeout leaves room for a slow generator call.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	sessions.Wait()

	slog.Info("Server stopped successfully")
}

func newGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Generator, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		return llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL: cfg.LLM.OpenAIBaseURL,
			APIKey:  cfg.LLM.OpenAIAPIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
			Logger:  logger,
		})
	default:
		return llm.NewGemini(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.Model, logger)
	}
}
