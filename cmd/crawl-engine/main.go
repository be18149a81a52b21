// Package main wires together the crawl engine service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"crawl-engine/internal/api"
	"crawl-engine/internal/browser"
	"crawl-engine/internal/clock/system"
	"crawl-engine/internal/config"
	"crawl-engine/internal/crawl"
	"crawl-engine/internal/dedup"
	"crawl-engine/internal/fetch"
	"crawl-engine/internal/frontier"
	"crawl-engine/internal/id/uuid"
	"crawl-engine/internal/kv"
	"crawl-engine/internal/logging"
	"crawl-engine/internal/metrics"
	"crawl-engine/internal/monitor"
	"crawl-engine/internal/orchestrate"
	memorypublisher "crawl-engine/internal/publisher/memory"
	pubsubpublisher "crawl-engine/internal/publisher/pubsub"
	"crawl-engine/internal/render"
	"crawl-engine/internal/robots"
	"crawl-engine/internal/storage/gcs"
	"crawl-engine/internal/storage/local"
	"crawl-engine/internal/storage/memory"
	"crawl-engine/internal/storage/postgres"
	"crawl-engine/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop func()) error {
	kvStore, err := newKVStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("init kv store: %w", err)
	}
	defer func() {
		if err := kvStore.Close(); err != nil {
			logger.Error("kv store close failed", zap.Error(err))
		}
	}()

	jobStore, resultStore, closeDB, err := newStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init stores: %w", err)
	}
	defer closeDB()

	blobStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer closePublisher()

	robotsCache := robots.NewCache(
		robots.NewHTTPFetcher(cfg.Crawler.UserAgent),
		cfg.Crawler.RobotsTTL(),
		kvStore,
		logger.Named("robots"),
	)
	limiter := frontier.NewRateLimiter(cfg.Crawler.DefaultRateRPS, 2)
	front := frontier.New(limiter, cfg.Crawler.FrontierCapacity, 0.001)
	deduper := dedup.New(cfg.Dedup, kvStore, logger.Named("dedup"))

	fetcher, err := fetch.NewCollyFetcher(fetch.Options{
		UserAgent:      cfg.Crawler.UserAgent,
		RequestTimeout: cfg.Crawler.RequestTimeout(),
		Parallelism:    cfg.Crawler.Workers,
	}, logger.Named("fetch"))
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	var renderer worker.Renderer
	var pool *browser.Pool
	if cfg.Browser.Enabled {
		pool, err = browser.NewPool(browser.Options{
			Size:           cfg.Browser.PoolSize,
			AcquireTimeout: time.Duration(cfg.Browser.AcquireTimeoutSec) * time.Second,
			UserAgent:      cfg.Crawler.UserAgent,
			Headless:       true,
		}, logger.Named("browser"))
		if err != nil {
			// Rendering degrades to plain fetch when Chrome is unavailable.
			logger.Warn("browser pool init failed, rendering disabled", zap.Error(err))
		} else {
			defer pool.Close()
			metrics.RegisterBrowserPool(pool.InUse)
			renderer = render.NewRenderer(pool, metrics.RenderObserver{}, logger.Named("render"))
		}
	}

	clk := system.New()
	orch := orchestrate.New(
		jobStore,
		front,
		limiter,
		robotsCache,
		uuid.New(),
		clk,
		orchestrate.Options{
			Defaults: orchestrate.Defaults{
				MaxPages:     cfg.Crawler.MaxPagesDefault,
				RateLimitRPS: cfg.Crawler.DefaultRateRPS,
			},
			FailureThreshold: cfg.Crawler.FailureThreshold,
		},
		logger.Named("orchestrate"),
	)

	mon := monitor.New(
		monitor.Gauges{ActiveJobs: orch.ActiveJobs, QueuedURLs: front.Len},
		healthChecks(jobStore, pool),
		logger.Named("monitor"),
	)
	defer mon.Close()

	workerCfg := worker.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		BlobPrefix:    cfg.Storage.Prefix,
		Topic:         cfg.PubSub.TopicName,
		RenderTimeout: time.Duration(cfg.Browser.RenderTimeoutSec) * time.Second,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Crawler.Workers; i++ {
		w := worker.New(
			front,
			limiter,
			orch,
			robotsCache,
			fetcher,
			renderer,
			deduper,
			resultStore,
			blobStore,
			publisher,
			mon,
			clk,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		)
		workers = append(workers, w)
		go w.Run(ctx)
	}

	apiServer := api.NewServer(orch, resultStore, robotsCache, mon, workers[0], cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	front.Close()
	logger.Info("shutdown complete")
	return nil
}

func newKVStore(cfg config.Config, logger *zap.Logger) (kv.Store, error) {
	if cfg.KV.Provider == "badger" {
		return kv.NewBadgerStore(cfg.KV.Path, logger.Named("kv"))
	}
	return kv.NewMemoryStore(), nil
}

func newStores(ctx context.Context, cfg config.Config) (crawl.JobStore, crawl.ResultStore, func(), error) {
	if cfg.DB.Provider == "postgres" {
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil
	}
	return memory.NewJobStore(), memory.NewResultStore(), func() {}, nil
}

func newBlobStore(ctx context.Context, cfg config.Config) (crawl.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return gcs.New(client, cfg.Storage.GCSBucket)
	case "local":
		return local.New(cfg.Storage.LocalDir)
	default:
		return memory.NewBlobStore(), nil
	}
}

func newPublisher(ctx context.Context, cfg config.Config) (crawl.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		pub.Close()
		if err := client.Close(); err != nil {
			zap.L().Error("pubsub client close failed", zap.Error(err))
		}
	}, nil
}

func healthChecks(jobs crawl.JobStore, pool *browser.Pool) []monitor.HealthCheck {
	checks := []monitor.HealthCheck{
		{
			Name: "job_store",
			Check: func(ctx context.Context) error {
				_, err := jobs.ListJobs(ctx, "", 1)
				return err
			},
		},
	}
	if pool != nil {
		checks = append(checks, monitor.HealthCheck{
			Name: "browser_pool",
			Check: func(ctx context.Context) error {
				return pool.HealthCheck(ctx)
			},
		})
	}
	return checks
}
