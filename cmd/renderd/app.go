package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"renderd/internal/config"
	"renderd/internal/gateway"
	"renderd/internal/httpapi"
	"renderd/internal/jobstore"
	"renderd/internal/queue"
	"renderd/internal/registry"
	"renderd/internal/runner"
	"renderd/internal/vram"
	"renderd/internal/workflows"
	"renderd/pkg/types"
)

// backends groups the shared infrastructure of both processes.
type backends struct {
	store    *jobstore.Store
	queue    queue.Queue
	ready    func(ctx context.Context) error
	shutdown []func()
}

func (b *backends) close() {
	for i := len(b.shutdown) - 1; i >= 0; i-- {
		b.shutdown[i]()
	}
}

func openBackends(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{}

	var durable jobstore.Durable
	var checks []func(ctx context.Context) error
	if cfg.DatabaseURL != "" {
		pg, err := jobstore.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		durable = pg
		checks = append(checks, pg.Ping)
		b.shutdown = append(b.shutdown, func() { pg.Close() })
	} else {
		log.Warn().Msg("no database_url configured, using in-memory job store")
		durable = jobstore.NewMemoryDurable()
	}

	var cache jobstore.Cache
	var publishers []jobstore.Publisher
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("parse redis_url: %w", err)
		}
		rdb := redis.NewClient(opts)
		rc := jobstore.NewRedisCache(rdb, cfg.CacheTTL)
		cache = rc
		publishers = append(publishers, jobstore.NewRedisEvents(rdb, log))
		checks = append(checks, rc.Ping)
		b.shutdown = append(b.shutdown, func() { rdb.Close() })
	} else {
		log.Warn().Msg("no redis_url configured, job cache disabled")
	}

	b.store = jobstore.New(jobstore.Config{
		Durable:    durable,
		Cache:      cache,
		Publishers: publishers,
		Logger:     log,
	})

	if cfg.AMQPURL != "" {
		rq, err := queue.NewRabbitQueue(queue.RabbitConfig{
			URL:    cfg.AMQPURL,
			Queue:  cfg.QueueName,
			Logger: log,
		})
		if err != nil {
			b.close()
			return nil, err
		}
		b.queue = rq
		b.shutdown = append(b.shutdown, func() { rq.Close() })
	} else {
		log.Warn().Msg("no amqp_url configured, using in-process queue")
		mq := queue.NewMemoryQueue(256)
		b.queue = mq
		b.shutdown = append(b.shutdown, func() { mq.Close() })
	}

	b.ready = func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return b, nil
}

func loadRegistry(cfg config.Config) ([]types.ModelSpec, error) {
	if cfg.ModelsFile != "" {
		return registry.Load(cfg.ModelsFile)
	}
	return registry.Default(), nil
}

func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	specs, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	mux := httpapi.NewMux(httpapi.Deps{
		Store:          b.store,
		Queue:          b.queue,
		VRAM:           vram.New(specs, cfg.VRAMBudgetGB, log),
		Ready:          b.ready,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runWorker(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.GPU.ServerURL == "" {
		return fmt.Errorf("gpu.server_url is required for the worker")
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	specs, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	scheduler := vram.New(specs, cfg.VRAMBudgetGB, log)
	defer scheduler.EvictAll()

	gw := gateway.New(gateway.Config{
		BaseURL:       cfg.GPU.ServerURL,
		APIKey:        cfg.GPU.APIKey,
		Timeout:       cfg.GPU.Timeout,
		UploadTimeout: cfg.GPU.UploadTimeout,
		MaxRetries:    cfg.GPU.MaxRetries,
		Logger:        log,
	})

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	executors := workflows.NewRegistry(workflows.Deps{
		Gateway:    gw,
		Scheduler:  scheduler,
		Compositor: workflows.CopyCompositor{},
		WorkDir:    filepath.Join(os.TempDir(), "renderd"),
		OutputDir:  cfg.OutputDir,
		Logger:     log,
	})

	return runner.New(b.store, b.queue, executors, log).Run(ctx)
}
