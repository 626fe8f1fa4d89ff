package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httphandler "audiobook-feed/internal/adapter/http"
	"audiobook-feed/internal/config"
	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider"
	"audiobook-feed/internal/domain/provider/fallback"
	"audiobook-feed/internal/logging"
	"audiobook-feed/internal/metrics"
	"audiobook-feed/internal/service"
	"audiobook-feed/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to read .env", "error", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	dataset, err := fallback.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Cache.Path,
		store.WithReuseThreshold(cfg.Cache.ReuseThreshold),
		store.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Cache.SeedFallback {
		if n, err := st.SeedIfEmpty(ctx, dataset.All()); err != nil {
			slog.Warn("Seeding overflow cache failed", "error", err)
		} else if n > 0 {
			slog.Info("Overflow cache seeded from fallback dataset", "count", n)
		}
	}

	catalogs := provider.NewAll(provider.Options{
		DisableA:           cfg.Catalogs.DisableITunes,
		DisableB:           cfg.Catalogs.DisableAudimeta,
		Region:             cfg.Catalogs.Region,
		AffiliateTag:       cfg.Catalogs.AffiliateTag,
		Timeout:            cfg.CatalogTimeout(),
		MaxAttempts:        cfg.Catalogs.MaxAttempts,
		RequestsPerMinuteA: cfg.Catalogs.ITunesRequestsPerMinute,
		RequestsPerMinuteB: cfg.Catalogs.AudimetaRequestsPerMinute,
		Fallback:           dataset,
		Metrics:            m,
	})
	slog.Info("Loaded catalogs", "count", len(catalogs.List()))

	svc := service.NewService(catalogs.List()...)
	tasks := service.NewTaskQueue(int64(cfg.Feed.TaskConcurrency), nil, m)
	pipeline := service.NewPipeline(catalogs.B, catalogs.A, service.NewReconciler(svc), st, tasks,
		service.WithBackgroundEnrich(cfg.Feed.BackgroundEnrich),
		service.WithPipelineMetrics(m),
	)
	newBuffer := func(opts domain.FeedOptions) *service.Buffer {
		return service.NewBuffer(pipeline, st, tasks, opts,
			service.WithFastScrollWindow(cfg.FastScrollWindow()),
			service.WithBufferMetrics(m),
		)
	}

	mux := http.NewServeMux()
	httphandler.NewHandler(svc, st).Register(mux)
	httphandler.NewFeedHandler(newBuffer, catalogs.A, catalogs.B, cfg.FeedOptions(), cfg.SessionTTL()).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// smart-next may wait for a full pipeline run, hence the long write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httphandler.Logging(httphandler.Recover(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port, "cache", st.Path())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Background enrichment is allowed to finish before the store closes.
	tasks.Close()
	slog.Info("Server exiting")
	return nil
}
