package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"medalert/internal/api"
	"medalert/internal/config"
	"medalert/internal/ingest"
	"medalert/internal/logging"
	"medalert/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, HTTP API and inventory consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath)
		},
	}
}

func serve(ctx context.Context, path string) error {
	a, err := newApp(ctx, path, true)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg.Get()
	logger := a.logger

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	applyConfig := func(next *config.Config) {
		a.level.Set(logging.ParseLevel(next.LogLevel))
		logger.Info("config reloaded", "log_level", next.LogLevel)
	}
	go a.cfg.Watch(cfg.Settings.PollInterval, applyConfig, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stopWatch)

	// Intervals are read once; changing them needs a restart.
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		intervals := scheduler.IntervalsFrom(a.thresholds.Load().Intervals)
		sched = scheduler.New(a.scanner, intervals, logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	} else {
		logger.Info("scheduler disabled")
	}

	if cfg.Kafka.Enabled && cfg.Kafka.InventoryTopic != "" {
		handler := ingest.NewHandler(a.inventory, a.scanner, cfg.Kafka.TriggerCooldown, logger)
		ingest.StartKafka(ctx, cfg.Kafka, handler, logger)
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     a.cfg,
			Thresholds: a.thresholds,
			Alerts:     a.alerts,
			Scanner:    a.scanner,
			Metrics:    a.metrics,
			Logger:     logger,
			Version:    version,

			ConfigUpdated: applyConfig,
		}
		if sched != nil {
			deps.Schedule = sched
		}
		if a.db != nil {
			deps.Storage = a.db
		}
		api.Start(ctx, cfg.API.Addr, api.NewServer(deps), logger)
	} else {
		logger.Info("api disabled")
	}

	logger.Info("medalert running", "version", version, "config", a.cfg.Path())
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
