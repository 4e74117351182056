// Package main is the entry point for the insightd generation core daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trendsight/insight-core/internal/api"
	"github.com/trendsight/insight-core/internal/config"
	"github.com/trendsight/insight-core/internal/domain"
	"github.com/trendsight/insight-core/internal/insight"
	"github.com/trendsight/insight-core/internal/ops"
	"github.com/trendsight/insight-core/internal/provider"
	"github.com/trendsight/insight-core/internal/resilience"
	"github.com/trendsight/insight-core/internal/security"
	"github.com/trendsight/insight-core/internal/store"
)

func main() {
	// =========================================================================
	// 1. Load configuration
	// =========================================================================
	cfg, err := config.Load(os.Getenv("TRENDSIGHT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// =========================================================================
	// 2. Setup structured logger with secret redaction
	// =========================================================================
	logger := setupLogger(cfg.Logging)

	logger.Info("starting insightd",
		slog.Int("credentials", len(cfg.Credentials)),
		slog.Int("routes", len(cfg.Routes)),
	)

	// =========================================================================
	// 3. Open the insight store
	// =========================================================================
	insightStore, err := store.NewSQLiteStore(cfg.Cache.DBPath)
	if err != nil {
		logger.Error("failed to open insight store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer insightStore.Close()

	// =========================================================================
	// 4. Build the resilient generation core
	// =========================================================================
	keyManager := domain.NewKeyManager(cfg.Credentials,
		domain.WithFailureThreshold(cfg.KeyPool.FailureThreshold),
		domain.WithCooldown(time.Duration(cfg.KeyPool.CooldownSeconds)*time.Second),
	)
	routes := domain.NewRouteTable(cfg.RouteList())
	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		ResetTimeout:        time.Duration(cfg.Breaker.ResetTimeoutMs) * time.Millisecond,
		HalfOpenMaxAttempts: cfg.Breaker.HalfOpenMaxAttempts,
	})

	caller := resilience.NewCaller(routes, keyManager, breakers,
		resilience.WithRetryPolicy(resilience.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
			Multiplier:   cfg.Retry.Multiplier,
		}),
		resilience.WithProviderFactory(newProvider),
		resilience.WithUsageRecorder(insightStore),
		resilience.WithLogger(logger),
	)

	logger.Info("generation core initialized",
		slog.Any("providers", keyManager.Providers()),
	)

	// =========================================================================
	// 5. Assemble the insight service
	// =========================================================================
	regenQueue := insight.NewRegenQueue(insight.WithRegenLogger(logger))

	service := insight.NewService(insightStore, regenQueue, caller, newProvider,
		insight.WithBudget(cfg.Budget),
		insight.WithServiceLogger(logger),
	)

	// =========================================================================
	// 6. Setup the ops server
	// =========================================================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(ops.RecoveryMiddleware(logger))
	router.Use(ops.LoggingMiddleware(logger))

	opsHandler := ops.NewHandler(keyManager, breakers, insightStore, regenQueue, ops.WithLogger(logger))
	opsHandler.Register(router)

	apiHandler := api.NewHandler(service, api.WithLogger(logger))
	apiHandler.Register(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("ops server starting", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// =========================================================================
	// 7. Graceful shutdown on SIGTERM/SIGINT
	// =========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Let in-flight regenerations finish inside the shutdown window.
	regenQueue.Wait()

	logger.Info("insightd stopped gracefully")
}

// newProvider builds the provider client for one credential. Every provider
// here speaks the Gemini wire format; other backends plug in by extending
// this switch.
func newProvider(providerName, apiKey string) (provider.Provider, error) {
	switch providerName {
	case "gemini":
		return provider.NewGemini(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
}

// setupLogger creates a structured logger with secret redaction.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(security.NewRedactedHandler(handler))
	slog.SetDefault(logger)
	return logger
}
