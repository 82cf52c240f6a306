package main

import (
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketmind-ai/marketmind/internal/config"
)

var verifyConfigCmd = &cobra.Command{
	Use:   "verify-config",
	Short: "Verify configuration and credentials, then exit",
	Long: `Verify-config loads the configuration and checks every credential and
schedule entry without contacting any provider. Exits 0 when the system
is ready to start.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(verifyConfig())
	},
}

// verifyConfig checks configured credentials and schedule entries.
// Returns 0 if everything is usable, 1 otherwise.
func verifyConfig() int {
	log.Info().Msg("Verifying configuration and credentials...")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	allValid := true
	checked := 0

	// Market data providers
	log.Info().Msg("Checking market data providers...")
	checked++
	switch {
	case cfg.Providers.TuShare.Token == "":
		log.Warn().Msg("TuShare token not configured; the facade will rely on the AKTools fallback")
	case isPlaceholder(cfg.Providers.TuShare.Token):
		log.Warn().Msg("❌ TuShare token appears to be a placeholder value")
		allValid = false
	default:
		log.Info().
			Int("token_length", len(cfg.Providers.TuShare.Token)).
			Msg("✓ TuShare token configured (validation requires a live call)")
	}

	// LLM configuration
	log.Info().Msg("Checking LLM configuration...")
	checked++
	if cfg.LLM.Endpoint == "" {
		log.Error().Msg("❌ LLM endpoint not configured")
		allValid = false
	} else if cfg.LLM.PrimaryModel == "" {
		log.Error().Msg("❌ LLM primary model not configured")
		allValid = false
	} else if isPlaceholder(cfg.LLM.APIKey) {
		log.Warn().Msg("❌ LLM API key appears to be a placeholder value")
		allValid = false
	} else {
		log.Info().
			Str("endpoint", cfg.LLM.Endpoint).
			Str("model", cfg.LLM.PrimaryModel).
			Msg("✓ LLM configuration present (endpoint validation requires a live connection)")
	}

	// Weights profile
	log.Info().Msg("Checking weights profile...")
	checked++
	if _, err := loadProfile(cfg); err != nil {
		log.Error().Err(err).Msg("❌ Weights profile rejected")
		allValid = false
	} else {
		log.Info().Str("profile", cfg.Strategy.Profile).Msg("✓ Weights profile loads")
	}

	// Decision log
	if cfg.Database.Enabled {
		log.Info().Msg("Checking decision log configuration...")
		checked++
		dbValid := true

		if cfg.App.Environment != "development" && cfg.Database.Password == "" {
			log.Warn().
				Str("environment", cfg.App.Environment).
				Msg("❌ Database password not configured (required outside development)")
			dbValid = false
		}
		if cfg.App.Environment == "production" {
			placeholders := []string{"changeme", "changeme_in_production", "postgres", "password"}
			for _, placeholder := range placeholders {
				if cfg.Database.Password == placeholder {
					log.Error().Msg("❌ Database password is a common placeholder value (SECURITY RISK)")
					dbValid = false
					break
				}
			}
		}
		if dbValid {
			log.Info().
				Str("host", cfg.Database.Host).
				Str("database", cfg.Database.Database).
				Str("ssl_mode", cfg.Database.SSLMode).
				Msg("✓ Decision log configuration present")
		} else {
			allValid = false
		}
	}

	// Telegram alerts
	if cfg.Alerts.Telegram.Enabled {
		log.Info().Msg("Checking Telegram alerts...")
		checked++
		switch {
		case cfg.Alerts.Telegram.Token == "":
			log.Error().Msg("❌ Telegram bot token not configured")
			allValid = false
		case isPlaceholder(cfg.Alerts.Telegram.Token):
			log.Warn().Msg("❌ Telegram bot token appears to be a placeholder value")
			allValid = false
		case len(cfg.Alerts.Telegram.ChatIDs) == 0:
			log.Error().Msg("❌ No Telegram chat IDs configured")
			allValid = false
		default:
			log.Info().
				Int("chat_ids", len(cfg.Alerts.Telegram.ChatIDs)).
				Msg("✓ Telegram alerts configured")
		}
	}

	// Schedule
	log.Info().Msg("Checking schedule...")
	checked++
	scheduleValid := true
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		log.Error().Err(err).Str("timezone", cfg.Schedule.Timezone).Msg("❌ Unknown timezone")
		scheduleValid = false
	}
	crontabs := map[string]string{
		"morning_cron":   cfg.Schedule.MorningCron,
		"closing_cron":   cfg.Schedule.ClosingCron,
		"snapshot_every": cfg.Schedule.SnapshotEvery,
	}
	for name, spec := range crontabs {
		if _, err := cron.ParseStandard(spec); err != nil {
			log.Error().Err(err).Str("entry", name).Str("spec", spec).Msg("❌ Invalid crontab")
			scheduleValid = false
		}
	}
	if scheduleValid {
		log.Info().
			Int("watchlist", len(cfg.Schedule.Watchlist)).
			Str("timezone", cfg.Schedule.Timezone).
			Msg("✓ Schedule entries parse")
	} else {
		allValid = false
	}

	// Summary
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if allValid {
		log.Info().
			Int("checks", checked).
			Msg("✅ Configuration verified successfully")
		log.Info().Msg("System is ready to start")
		return 0
	}
	log.Error().
		Int("checks", checked).
		Msg("❌ Some configuration is invalid or missing")
	log.Error().Msg("Please fix the above issues before starting the system")
	return 1
}

// isPlaceholder reports whether a credential looks like an unfilled example.
func isPlaceholder(value string) bool {
	placeholders := []string{"changeme", "YOUR_TOKEN", "YOUR_API_KEY", "test_token", "placeholder"}
	for _, placeholder := range placeholders {
		if strings.EqualFold(value, placeholder) {
			return true
		}
	}
	return false
}
