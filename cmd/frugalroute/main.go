package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/frugalroute/frugalroute/internal/api"
	"github.com/frugalroute/frugalroute/internal/bandit"
	"github.com/frugalroute/frugalroute/internal/benchmark"
	"github.com/frugalroute/frugalroute/internal/budget"
	"github.com/frugalroute/frugalroute/internal/cache"
	"github.com/frugalroute/frugalroute/internal/catalog"
	"github.com/frugalroute/frugalroute/internal/circuitbreaker"
	"github.com/frugalroute/frugalroute/internal/classifier"
	"github.com/frugalroute/frugalroute/internal/config"
	"github.com/frugalroute/frugalroute/internal/notifications"
	"github.com/frugalroute/frugalroute/internal/orchestrator"
	"github.com/frugalroute/frugalroute/internal/provider"
	"github.com/frugalroute/frugalroute/internal/provider/anthropic"
	"github.com/frugalroute/frugalroute/internal/provider/mock"
	"github.com/frugalroute/frugalroute/internal/provider/openaicompat"
	"github.com/frugalroute/frugalroute/internal/ratelimit"
	"github.com/frugalroute/frugalroute/internal/secrets"
	"github.com/frugalroute/frugalroute/internal/store"
	"github.com/frugalroute/frugalroute/internal/telemetry"
	"github.com/frugalroute/frugalroute/internal/tenant"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting frugalroute", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "frugalroute", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	var secretStore secrets.Store
	if cfg.SecretsPrefix != "" && cfg.AWSRegion != "" {
		sm, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Warn("secrets manager unavailable, using env keys", "error", err)
		} else {
			secretStore = sm
			slog.Info("using secrets manager for provider keys", "prefix", cfg.SecretsPrefix)
		}
	}

	providers := registerProviders(ctx, cfg, secretStore)
	providerSet := make(map[string]bool, len(providers))
	for id := range providers {
		providerSet[id] = true
		slog.Info("registered provider", "provider", id)
	}

	models := catalog.ForProviders(providerSet)
	if len(models) == 0 {
		slog.Error("no catalog models for configured providers")
		os.Exit(1)
	}
	modelIDs := make([]string, len(models))
	for i, m := range models {
		modelIDs[i] = m.ID
	}

	banditEngine := bandit.New(bandit.DefaultConfig(), modelIDs, db)
	benchTracker := benchmark.NewTracker(db, 30*time.Second)
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	queue := store.NewWriteQueue(db, cfg.QueueFlushInterval, cfg.DegradedThreshold)
	tenants := tenant.NewManager(db)

	var responseCache cache.ResponseCache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
			responseCache = newInMemoryCache(cfg)
		} else {
			slog.Info("using redis cache")
			responseCache = redisCache
		}
	} else {
		responseCache = newInMemoryCache(cfg)
		slog.Info("using in-memory semantic cache")
	}

	var rateLimiter ratelimit.RateLimiter
	if cfg.RedisURL != "" {
		rl, err := ratelimit.NewRedisRateLimiter(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for rate limiting, using in-memory", "error", err)
			rateLimiter = ratelimit.NewTokenBucketLimiter()
		} else {
			slog.Info("using redis rate limiter")
			rateLimiter = rl
		}
	} else {
		rateLimiter = ratelimit.NewTokenBucketLimiter()
	}

	budgetMonitor := budget.NewMonitor(budget.DefaultThresholds())
	budgetMonitor.OnAlert(budget.LogAlertHandler)
	if cfg.SNSTopicARN != "" && cfg.AWSRegion != "" {
		notifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Warn("sns notifier unavailable", "error", err)
		} else {
			budgetMonitor.OnAlert(snsAlertHandler(notifier))
			slog.Info("budget alerts publishing to sns", "topic", cfg.SNSTopicARN)
		}
	}

	orch := &orchestrator.Orchestrator{
		Providers:  providers,
		Classifier: classifier.New(nil),
		Breakers:   breakers,
		Cache:      responseCache,
		Bandit:     banditEngine,
		Bench:      benchTracker,
		Queue:      queue,
		Tenants:    tenants,
		Budget:     budgetMonitor,
		Feedback:   db,
		Models:     models,
	}

	handler := api.NewHandler(api.HandlerConfig{
		Orchestrator: orch,
		Tenants:      tenants,
		RateLimiter:  rateLimiter,
		Concurrency:  ratelimit.NewConcurrencyLimiter(cfg.MaxConcurrent),
		Breakers:     breakers,
		Bench:        benchTracker,
		Store:        db,
		Queue:        queue,
		AdminBcrypt:  cfg.AdminTokenBcrypt,
	})

	var workers sync.WaitGroup
	workers.Add(3)
	go func() { defer workers.Done(); queue.Run(ctx) }()
	go func() { defer workers.Done(); banditEngine.Run(ctx) }()
	go func() { defer workers.Done(); benchTracker.Run(ctx) }()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the background workers; the write queue and benchmarker drain
	// synchronously on cancellation.
	cancel()
	workers.Wait()

	if err := db.Close(); err != nil {
		slog.Error("database close failed", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}

func registerProviders(ctx context.Context, cfg *config.Config, secretStore secrets.Store) map[string]provider.Provider {
	providers := make(map[string]provider.Provider)

	if key := secrets.ResolveProviderKey(ctx, secretStore, cfg.SecretsPrefix, "openai", cfg.OpenAIAPIKey); key != "" {
		providers["openai"] = openaicompat.New(openaicompat.OpenAI, key)
	}
	if key := secrets.ResolveProviderKey(ctx, secretStore, cfg.SecretsPrefix, "anthropic", cfg.AnthropicAPIKey); key != "" {
		providers["anthropic"] = anthropic.New(key)
	}
	if key := secrets.ResolveProviderKey(ctx, secretStore, cfg.SecretsPrefix, "gemini", cfg.GeminiAPIKey); key != "" {
		providers["gemini"] = openaicompat.New(openaicompat.Gemini, key)
	}
	if key := secrets.ResolveProviderKey(ctx, secretStore, cfg.SecretsPrefix, "groq", cfg.GroqAPIKey); key != "" {
		providers["groq"] = openaicompat.New(openaicompat.Groq, key)
	}
	if key := secrets.ResolveProviderKey(ctx, secretStore, cfg.SecretsPrefix, "cohere", cfg.CohereAPIKey); key != "" {
		providers["cohere"] = openaicompat.New(openaicompat.Cohere, key)
	}

	if len(providers) == 0 {
		slog.Warn("no provider API keys configured, running in mock mode")
		providers["mock"] = mock.New()
	}
	return providers
}

func newInMemoryCache(cfg *config.Config) cache.ResponseCache {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.TTL = cfg.CacheTTL
	return cache.NewSemanticCache(cacheCfg)
}

func snsAlertHandler(notifier notifications.Notifier) budget.AlertHandler {
	return func(alert budget.Alert) {
		notificationType := notifications.NotificationBudgetWarning
		switch alert.Level {
		case budget.AlertLevelCritical:
			notificationType = notifications.NotificationBudgetCritical
		case budget.AlertLevelExceeded:
			notificationType = notifications.NotificationBudgetExceeded
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := notifier.Send(ctx, notifications.Notification{
			Type:     notificationType,
			TenantID: alert.TenantID,
			Message:  "tenant budget threshold reached",
			Data: map[string]any{
				"budget":      alert.Budget,
				"current_use": alert.CurrentUse,
				"percentage":  alert.Percentage,
			},
		}); err != nil {
			slog.Warn("budget alert publish failed", "tenant_id", alert.TenantID, "error", err)
		}
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
