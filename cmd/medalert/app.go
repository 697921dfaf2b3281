package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"medalert/internal/alerts"
	"medalert/internal/api"
	"medalert/internal/config"
	"medalert/internal/engine"
	"medalert/internal/events"
	"medalert/internal/ingest"
	"medalert/internal/inventory"
	"medalert/internal/logging"
	"medalert/internal/metrics"
	"medalert/internal/storage"
)

// alertBackend is what both the memory and SQL alert stores offer.
type alertBackend interface {
	engine.AlertStore
	api.AlertManager
}

type inventoryBackend interface {
	engine.Inventory
	ingest.Snapshots
}

type app struct {
	cfg        *config.Manager
	logger     *slog.Logger
	level      *slog.LevelVar
	thresholds *config.ThresholdFile
	alerts     alertBackend
	inventory  inventoryBackend
	db         storage.Store
	metrics    *metrics.Store
	scanner    *engine.Scanner
	publisher  *events.Publisher
	closers    []func() error
}

func loadManager(path string) (*config.Manager, error) {
	path = config.ResolvePath(path)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}
	return config.NewManager(path)
}

func newApp(ctx context.Context, path string, publish bool) (*app, error) {
	mgr, err := loadManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger, level := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	a := &app{
		cfg:        mgr,
		logger:     logger,
		level:      level,
		thresholds: config.NewThresholdFile(config.ResolvePath(cfg.Settings.Path), logger),
		metrics:    metrics.NewStore(),
	}

	if cfg.Storage.Enabled {
		st, err := storageOpen(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		a.db = st
		a.alerts = st
		a.inventory = st
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	} else {
		a.alerts = alerts.NewStore(cfg.Alerts.StoreLimit)
		a.inventory = inventory.NewMemory()
		logger.Info("storage disabled, using in-memory alerts and inventory")
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithRecorder(metrics.NewRecorder(a.metrics)),
	}
	if publish && cfg.Kafka.Enabled && cfg.Kafka.AlertsTopic != "" {
		pub, err := events.NewPublisher(cfg.Kafka)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("alert publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, engine.WithPublisher(pub))
		logger.Info("alert publishing enabled", "topic", cfg.Kafka.AlertsTopic)
	}
	a.scanner = engine.NewScanner(a.inventory, a.alerts, a.thresholds, opts...)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
