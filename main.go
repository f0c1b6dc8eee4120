package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/traveltek-sync/ingestiond/admin"
	"github.com/traveltek-sync/ingestiond/config"
	"github.com/traveltek-sync/ingestiond/discovery"
	"github.com/traveltek-sync/ingestiond/ftppool"
	"github.com/traveltek-sync/ingestiond/logger"
	"github.com/traveltek-sync/ingestiond/migrations"
	"github.com/traveltek-sync/ingestiond/observability"
	"github.com/traveltek-sync/ingestiond/persistence"
	"github.com/traveltek-sync/ingestiond/queue"
	"github.com/traveltek-sync/ingestiond/reaper"
	"github.com/traveltek-sync/ingestiond/redisclient"
	"github.com/traveltek-sync/ingestiond/router"
	"github.com/traveltek-sync/ingestiond/sysflags"
	"github.com/traveltek-sync/ingestiond/webhook"
	"github.com/traveltek-sync/ingestiond/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("ingestiond starting")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	if err := migrations.Run(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	store, err := persistence.New(ctx, cfg.DatabaseURL, int32(cfg.DBPoolMax), log)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer store.Close()

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	if err := rc.Ping(); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}
	rdb := rc.Raw()

	webhookQueue := queue.New(rdb, queue.NameWebhookIntake, time.Second, time.Minute, queue.WebhookIntakeMaxAttempts)
	lineQueue := queue.New(rdb, queue.NameCruiseLineProcessing, time.Second, time.Minute, queue.CruiseLineProcessingMaxAttempts)

	ftpPool := ftppool.New(ftppool.Config{
		Host:             cfg.FTPHost,
		User:             cfg.FTPUser,
		Password:         cfg.FTPPassword,
		PoolSize:         cfg.FTPPoolSize,
		OpTimeout:        cfg.FTPOpTimeout,
		CircuitThreshold: cfg.FTPCircuitThreshold,
		CircuitCoolOff:   cfg.FTPCircuitCoolOff,
		MaxLifetime:      cfg.FTPMaxLifetime,
	}, log)
	defer ftpPool.Close()

	discoverer := discovery.New(ftpPool, cfg.MaxFilesBeforeDefer, log)
	flags := sysflags.New(store, 5*time.Second)

	metrics := observability.NewMetrics(log)
	slack := observability.NewSlackNotifier(observability.DefaultSlackConfig(cfg.SlackWebhookURL), log)

	handlers := worker.NewHandlers(store, ftpPool, discoverer, flags, lineQueue, metrics, slack, log, cfg.DiscoveryWindowMonths, cfg.MaxInlineBatch)

	webhookPool := worker.New(webhookQueue, handlers.WebhookIntake, worker.Config{Concurrency: cfg.QueueWebhookConcurrency}, log, metrics, slack)
	linePool := worker.New(lineQueue, handlers.CruiseLineProcessing, worker.Config{Concurrency: cfg.QueueLineConcurrency}, log, metrics, slack)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	webhookPool.Start(workerCtx)
	linePool.Start(workerCtx)

	reaperCfg := reaper.Config{
		Interval:           cfg.ReaperInterval,
		StalledJobTTL:      cfg.StalledJobTTL,
		WebhookStuckTTL:    cfg.WebhookStuckTTL,
		SyncLockTTL:        cfg.SyncLockTTL,
		BatchSyncDrainRate: cfg.BatchSyncDrainRate,
	}
	r := reaper.New(reaperCfg, store, []*queue.Queue{webhookQueue, lineQueue}, lineQueue, flags, metrics, slack, log)
	if err := r.Start(); err != nil {
		log.Fatal().Err(err).Msg("reaper failed to start")
	}

	webhookHandler := webhook.NewHandler(store, flags, webhookQueue, log)
	adminHandler := admin.NewHandler(store, flags, log)
	httpRouter := router.NewRouter(cfg, log, webhookHandler, adminHandler, metrics)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      httpRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("ingestiond listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	r.Stop()
	cancelWorkers()
	webhookPool.Stop()
	linePool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("ingestiond stopped gracefully")
	}
}
