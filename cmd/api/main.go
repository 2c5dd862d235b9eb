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

	"github.com/dunamismax/snapcrop/internal/api"
	"github.com/dunamismax/snapcrop/internal/bgremove"
	"github.com/dunamismax/snapcrop/internal/blob"
	"github.com/dunamismax/snapcrop/internal/config"
	"github.com/dunamismax/snapcrop/internal/editor"
	"github.com/dunamismax/snapcrop/internal/logging"
	"github.com/dunamismax/snapcrop/internal/queue"
	"github.com/dunamismax/snapcrop/internal/ratelimit"
	"github.com/dunamismax/snapcrop/internal/storage"
	"github.com/dunamismax/snapcrop/internal/store"
	"github.com/dunamismax/snapcrop/internal/telemetry"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const serviceName = "snapcrop-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, config.Usage())
		os.Exit(2)
	}

	logger := logging.New(serviceName, cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
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

	blobs := blob.NewRegistry()
	resizer := transform.NewResizer(logger)
	engine := transform.NewEngine(blobs, resizer, logger)
	ed := editor.New(engine, blobs, logger)
	sessions := editor.NewMemoryStore(ed, cfg.Session.IdleTTL)

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer closeStore()

	deps := api.Deps{
		Engine:   engine,
		Blobs:    blobs,
		Editor:   ed,
		Sessions: sessions,
		Jobs:     jobStore,
		BgRemover: bgremove.NewProvider(bgremove.ProviderConfig{
			Endpoint: cfg.BgRemove.Endpoint,
			APIKey:   cfg.BgRemove.APIKey,
			Timeout:  cfg.BgRemove.Timeout,
		}),
		Tracer: otel.Tracer("snapcrop/api"),
	}

	if cfg.Queue.Enabled {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn().Err(err).Msg("queue client close failed")
			}
		}()
		deps.Queue = queueClient

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
		deps.Storage = storageClient
	}

	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer rdb.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(rdb, ratelimit.Config{
			RatePerSec: cfg.RateLimit.RatePerSec,
			Burst:      cfg.RateLimit.Burst,
		})
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		deps.RateLimiter = limiter
	}

	app := api.NewServer(logger, cfg, deps)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.Transform.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Strs("resize_strategies", resizer.Strategies()).
			Bool("queue", cfg.Queue.Enabled).
			Bool("rate_limit", cfg.RateLimit.Enabled).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Session.SweepInterval > 0 {
		g.Go(func() error {
			sessions.Run(gctx, cfg.Session.SweepInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()

		logger.Info().Msg("shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
