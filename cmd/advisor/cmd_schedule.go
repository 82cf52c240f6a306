package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketmind-ai/marketmind/internal/config"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run watchlist analyses on the session clock",
	Long: `Schedule runs unattended: the watchlist is analyzed at the morning and
closing session marks, and snapshots are refreshed in between with an
anomaly sweep on every refresh.`,
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.NewValidator(cfg, config.DefaultValidatorOptions()).ValidateStartup(ctx); err != nil {
		return err
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := schedule.New(schedule.Config{
		Watchlist:   cfg.Schedule.Watchlist,
		MorningSpec: cfg.Schedule.MorningCron,
		ClosingSpec: cfg.Schedule.ClosingCron,
		RefreshSpec: cfg.Schedule.SnapshotEvery,
		Timezone:    cfg.Schedule.Timezone,
	}, rt.engine, rt.snaps)
	if err != nil {
		return err
	}

	var ms *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		ms = metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := ms.Start(); err != nil {
			return err
		}
		if rt.pool != nil {
			updater := metrics.NewUpdater(rt.pool, 15*time.Second)
			go updater.Start(ctx)
			defer updater.Stop()
		}
	}

	sched.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	sched.Stop()
	if ms != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := ms.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	return nil
}
