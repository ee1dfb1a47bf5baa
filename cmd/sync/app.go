package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timmy/tendersync/internal/config"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/metrics"
	"github.com/timmy/tendersync/internal/reconcile"
	"github.com/timmy/tendersync/internal/repository"
	"github.com/timmy/tendersync/internal/runlog"
	"github.com/timmy/tendersync/internal/service"
	"github.com/timmy/tendersync/internal/source"
	"github.com/timmy/tendersync/internal/source/scraperapi"
	"github.com/timmy/tendersync/internal/source/staging"
	"github.com/timmy/tendersync/internal/status"
	"github.com/timmy/tendersync/internal/storage"
)

// app holds the wired dependencies of one CLI invocation.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	history *runlog.History
	closers []func()
}

func loadApp(global *GlobalFlags) (*app, error) {
	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = "tendersync-sync"
	if cfg.Log.Format != "" {
		envCfg.Format = cfg.Log.Format
	}
	log := logger.NewFromEnv(envCfg)
	if cfg.Log.Level != "" {
		log.SetLevel(cfg.Log.Level)
	}
	if global.Debug {
		log.SetLevel("debug")
	}
	logger.SetDefaultLogger(log)

	return &app{
		cfg:     cfg,
		log:     log,
		history: runlog.NewHistory(cfg.HistoryPath(), cfg.Sync.HistoryRetention),
	}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = logger.Sync()
}

func (a *app) backend() (source.Backend, error) {
	switch a.cfg.Scraper.Backend {
	case "staging":
		return staging.NewAdapter(a.cfg.Scraper.StagingDir), nil
	default:
		return scraperapi.New(&scraperapi.Config{
			BaseURL:    a.cfg.Scraper.BaseURL,
			APIKey:     a.cfg.Scraper.APIKey,
			Timeout:    a.cfg.Scraper.Timeout,
			Workers:    a.cfg.Scraper.Workers,
			RetryCount: a.cfg.Scraper.RetryCount,
		})
	}
}

func (a *app) classifier() (*status.Classifier, error) {
	if a.cfg.Status.VocabularyFile == "" {
		return status.NewClassifier(nil), nil
	}
	vocab, err := status.LoadFile(a.cfg.Status.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("load status vocabulary: %w", err)
	}
	return status.NewClassifier(vocab), nil
}

// mirror opens the database mirror when enabled. A nil Mirror is valid.
func (a *app) mirror() (service.Mirror, error) {
	if !a.cfg.Database.Enabled {
		return nil, nil
	}
	db, err := repository.InitDB(&a.cfg.Database, a.log)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}
	return repository.NewTenderMirror(db, a.cfg.Database.BatchSize), nil
}

// archiver connects the snapshot archive when enabled. A nil Archiver is valid.
func (a *app) archiver() (service.Archiver, error) {
	if !a.cfg.Storage.Enabled {
		return nil, nil
	}
	objectStorage, err := storage.NewStorage(&a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initialize snapshot storage: %w", err)
	}
	return storage.NewSnapshotArchiver(objectStorage, a.cfg.Storage.Prefix), nil
}

func (a *app) syncService() (*service.SyncService, error) {
	backend, err := a.backend()
	if err != nil {
		return nil, err
	}
	classifier, err := a.classifier()
	if err != nil {
		return nil, err
	}
	mirror, err := a.mirror()
	if err != nil {
		return nil, err
	}
	archiver, err := a.archiver()
	if err != nil {
		return nil, err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	cfg := &service.SyncConfig{
		RecencyDays:          a.cfg.Sync.RecencyDays,
		RecheckBatchSize:     a.cfg.Sync.RecheckBatchSize,
		CallTimeout:          a.cfg.Sync.CallTimeout,
		InitialLookbackDays:  a.cfg.Sync.InitialLookbackDays,
		DiscoveryBufferDays:  a.cfg.Sync.DiscoveryBufferDays,
		DiscoveryHorizonDays: a.cfg.Sync.DiscoveryHorizonDays,
		Reconcile: reconcile.Options{
			CallTimeout:       a.cfg.Reconcile.CallTimeout,
			MaxCountQueries:   a.cfg.Reconcile.MaxCountQueries,
			FullRescrapeRatio: a.cfg.Reconcile.FullRescrapeRatio,
			Coalesce:          a.cfg.Reconcile.Coalesce,
		},
		TenderTypes: a.cfg.TenderTypes,
		Location:    a.cfg.Location(),
		Now:         time.Now,
	}

	return service.NewSyncService(backend, classifier, a.history, mirror, archiver, a.log, cfg), nil
}

// writeTextfile exports the process metrics for the node exporter when
// configured. Failures are logged only.
func (a *app) writeTextfile() {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewHistoryCollector(a.history, a.freshness()))
	g := prometheus.Gatherers{prometheus.DefaultGatherer, reg}
	if err := metrics.WriteTextfile(path, g); err != nil {
		a.log.WithError(err).Warn("Failed to write metrics textfile")
	}
}

func (a *app) freshness() time.Duration {
	return time.Duration(a.cfg.Sync.FreshnessHours * float64(time.Hour))
}
