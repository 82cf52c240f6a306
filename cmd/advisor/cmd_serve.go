package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketmind-ai/marketmind/internal/api"
	"github.com/marketmind-ai/marketmind/internal/config"
	"github.com/marketmind-ai/marketmind/internal/metrics"
)

var serveVerifyGateway bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve analyses over the REST API",
	Long: `Serve starts the HTTP API: POST /api/v1/analyze runs the analyst graph
synchronously, the remaining endpoints expose snapshots, stored runs and
source health. Prometheus metrics are served on /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveVerifyGateway, "verify-gateway", false, "check the LLM gateway health endpoint before starting")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := config.DefaultValidatorOptions()
	opts.VerifyGateway = serveVerifyGateway
	if err := config.NewValidator(cfg, opts).ValidateStartup(ctx); err != nil {
		return err
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.pool != nil && cfg.Monitoring.EnableMetrics {
		updater := metrics.NewUpdater(rt.pool, 15*time.Second)
		go updater.Start(ctx)
		defer updater.Stop()
	}

	server := api.NewServer(api.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
	}, api.Deps{
		Engine:    rt.engine,
		Store:     rt.store,
		Snapshots: rt.snaps,
		Health:    rt.health,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error().Err(err).Msg("API server failed")
		return err
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.Stop(shutdownCtx)
}
