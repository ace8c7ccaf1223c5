package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/notifyhub/villa-dispatch/internal/api"
	"github.com/notifyhub/villa-dispatch/internal/auth"
	"github.com/notifyhub/villa-dispatch/internal/config"
	"github.com/notifyhub/villa-dispatch/internal/db"
	"github.com/notifyhub/villa-dispatch/internal/dedup"
	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/metrics"
	"github.com/notifyhub/villa-dispatch/internal/provider"
	"github.com/notifyhub/villa-dispatch/internal/queue"
	"github.com/notifyhub/villa-dispatch/internal/ratelimiter"
	"github.com/notifyhub/villa-dispatch/internal/repository"
	"github.com/notifyhub/villa-dispatch/internal/service"
	"github.com/notifyhub/villa-dispatch/internal/stream"
	"github.com/notifyhub/villa-dispatch/internal/worker"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- stores ----
	notifications := repository.NewPgNotificationRepository(pool)
	devices := repository.NewPgDeviceRepository(pool)
	inbox := repository.NewPgInboxRepository(pool)

	dd, err := dedup.New(dedup.NewPgStore(pool), cfg.DedupTTL)
	if err != nil {
		logger.Fatal("failed to build deduplicator", zap.Error(err))
	}
	recipients := ratelimiter.NewRecipientLimiter(
		ratelimiter.NewPgCounterStore(pool), cfg.RecipientRateLimit, cfg.RecipientRateWindow)

	// ---- core dependencies ----
	q := queue.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, q)

	onDropped, onSuppressed := m.FeedHooks()
	hub := stream.NewHub(cfg.FeedBuffer, cfg.FeedDedupWindow, logger, stream.Hooks{
		OnDropped:    onDropped,
		OnSuppressed: onSuppressed,
	})

	prov := provider.NewRouter(map[domain.Channel]provider.Provider{
		domain.ChannelPush:    provider.NewFCMProvider(cfg.FCMEndpoint, cfg.FCMServerKey, cfg.FCMTimeout, devices, logger),
		domain.ChannelInApp:   provider.NewInAppProvider(inbox, hub),
		domain.ChannelWebhook: provider.NewWebhookProvider(cfg.WebhookURL, cfg.WebhookTimeout),
	})
	channels := ratelimiter.New(cfg.RateLimit)

	onDispatch, onSkipped := m.DispatchHooks()
	svc := service.NewDispatchService(
		notifications, devices, inbox, dd, recipients, q,
		service.Options{MaxRetries: cfg.MaxRetries, RequeueDelay: cfg.RetryBackoff[0]},
		service.Hooks{OnDispatch: onDispatch, OnSkipped: onSkipped},
		logger,
	)
	tokens := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)

	// ---- background workers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onSent, onFailed, onRetry := m.WorkerHooks()
	workers := worker.NewPool(cfg, q, notifications, prov, channels, logger, worker.MetricHooks{
		OnSent:   onSent,
		OnFailed: onFailed,
		OnRetry:  onRetry,
	})
	workers.Start(workerCtx)

	retryW := worker.NewRetryWorker(notifications, q, cfg.RetryInterval, logger)
	go retryW.Run(workerCtx)

	sweeper := worker.NewSweeper(dd, recipients, cfg.SweepInterval, logger, m.OnSwept)
	go sweeper.Run(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Service:       svc,
		Hub:           hub,
		Queue:         q,
		Gatherer:      reg,
		Tokens:        tokens,
		DB:            pool,
		FeedHeartbeat: cfg.FeedHeartbeat,
		Logger:        logger,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Int("workers", workers.Size()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. End live feeds; Shutdown does not wait on hijacked or streaming
	//    handlers that never return.
	hub.Close()

	// 2. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 3. Signal all workers to stop processing new queue items.
	cancelWorkers()

	// 4. Wait for in-flight workers to finish their current message.
	workers.Wait()

	logger.Info("server stopped cleanly")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
