// Command advisor is the MarketMind entry point: one-shot analyses, the
// REST server, the session scheduler and configuration checks.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketmind-ai/marketmind/internal/config"
)

var (
	cfgPath   string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:     "advisor",
	Version: config.GetVersion(),
	Short:   "MarketMind multi-agent market analysis advisor",
	Long: `MarketMind runs a team of LLM analysts over Chinese market data and
blends their artifacts into a deterministic position verdict.

Analyses run on demand (analyze), behind a REST API (serve) or on the
session clock (schedule).`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("MarketMind Advisor")
		fmt.Println("Use 'advisor analyze --symbol 000300.SH' to run one analysis")
	},
}

func init() {
	// stdout carries command output; all logging goes to stderr
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default ./configs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(verifyConfigCmd)
}

// loadConfig reads the configuration and applies its logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config.InitLogger(cfg.App.LogLevel, logFormat)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
