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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timmy/tendersync/internal/api"
	"github.com/timmy/tendersync/internal/api/middleware"
	"github.com/timmy/tendersync/internal/config"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/metrics"
	"github.com/timmy/tendersync/internal/runlog"
	"github.com/timmy/tendersync/internal/service"
	"github.com/timmy/tendersync/internal/status"
)

func main() {
	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = "tendersync-api"
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH selects the config file in deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid configuration")
	}
	if cfg.Log.Level != "" {
		appLogger.SetLevel(cfg.Log.Level)
	}

	classifier := status.NewClassifier(nil)
	if cfg.Status.VocabularyFile != "" {
		vocab, err := status.LoadFile(cfg.Status.VocabularyFile)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to load status vocabulary")
		}
		classifier = status.NewClassifier(vocab)
	}

	history := runlog.NewHistory(cfg.HistoryPath(), cfg.Sync.HistoryRetention)
	freshness := time.Duration(cfg.Sync.FreshnessHours * float64(time.Hour))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		appLogger.WithError(err).Fatal("Failed to register metrics")
	}
	prometheus.MustRegister(metrics.NewHistoryCollector(history, freshness))

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		appLogger.WithError(err).Fatal("Failed to create data directory")
	}
	catalog := service.NewCatalog(cfg.Data.Dir, cfg.TenderTypes, classifier, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := catalog.Watch(ctx); err != nil {
			// Without the watcher cached files would go stale.
			appLogger.WithError(err).Fatal("Failed to watch data directory")
		}
	}()

	router := api.SetupRouter(catalog, history, appLogger, api.RouterConfig{
		Mode:        cfg.Server.Mode,
		ServiceName: "tendersync-api",
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		FreshnessWindow: freshness,
		ExposeMetrics:   true,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
			"data": cfg.Data.Dir,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
