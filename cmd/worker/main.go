package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/snapcrop/internal/bgremove"
	"github.com/dunamismax/snapcrop/internal/config"
	"github.com/dunamismax/snapcrop/internal/logging"
	"github.com/dunamismax/snapcrop/internal/storage"
	"github.com/dunamismax/snapcrop/internal/store"
	"github.com/dunamismax/snapcrop/internal/telemetry"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/dunamismax/snapcrop/internal/webhook"
	"github.com/dunamismax/snapcrop/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const serviceName = "snapcrop-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, config.Usage())
		os.Exit(2)
	}

	logger := logging.New(serviceName, cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	if err := transform.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer transform.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer closeStore()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	bgRemover := bgremove.NewClient(cfg.BgRemove.RouteURL, cfg.BgRemove.Timeout)

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		cfg.Storage,
		cfg.UploadLimit,
		bgRemover,
		storageClient,
		webhookClient,
		jobStore,
	)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", srv.MetricsHandler())
	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Str("metrics_addr", cfg.Worker.MetricsAddr).
		Str("bg_remove_url", cfg.BgRemove.RouteURL).
		Msg("starting worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
