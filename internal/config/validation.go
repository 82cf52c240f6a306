package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateLLM()...)
	errors = append(errors, c.validateProviders()...)
	errors = append(errors, c.validateStrategy()...)
	errors = append(errors, c.validateCache()...)
	errors = append(errors, c.validateHealth()...)
	errors = append(errors, c.validateProbe()...)
	errors = append(errors, c.validateGraph()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateSchedule()...)
	errors = append(errors, c.validateAlerts()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if !c.Database.Enabled {
		return errors
	}

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required when the decision log is enabled",
		})
	}

	if c.Database.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: "Database port is required",
		})
	} else if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	if c.Database.Password == "" && c.App.Environment != "development" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in non-development environments",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if !c.Redis.Enabled {
		return errors
	}

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required when the persistent cache tier is enabled",
		})
	}

	if c.Redis.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: "Redis port is required",
		})
	} else if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if !c.NATS.Enabled {
		return errors
	}

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required when the event publisher is enabled",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateLLM() ValidationErrors {
	var errors ValidationErrors

	if c.LLM.Endpoint == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.endpoint",
			Message: "LLM endpoint is required",
		})
	}

	if c.LLM.PrimaryModel == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.primary_model",
			Message: "LLM primary model is required",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: fmt.Sprintf("Invalid temperature %.2f. Must be between 0-2", c.LLM.Temperature),
		})
	}

	if c.LLM.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "LLM max_tokens must be at least 1",
		})
	}

	if c.LLM.Timeout < 1000 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout",
			Message: "LLM timeout must be at least 1000ms",
		})
	}

	return errors
}

func (c *Config) validateProviders() ValidationErrors {
	var errors ValidationErrors

	if c.Providers.TuShare.Endpoint == "" {
		errors = append(errors, ValidationError{
			Field:   "providers.tushare.endpoint",
			Message: "TuShare endpoint is required",
		})
	}

	if c.Providers.TuShare.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "providers.tushare.rate_limit",
			Message: "TuShare rate limit must be greater than 0 requests/second",
		})
	}

	if c.Providers.TuShare.Burst < 1 {
		errors = append(errors, ValidationError{
			Field:   "providers.tushare.burst",
			Message: "TuShare burst must be at least 1",
		})
	}

	if c.Providers.TuShare.Timeout < 100 {
		errors = append(errors, ValidationError{
			Field:   "providers.tushare.timeout",
			Message: "TuShare timeout must be at least 100ms",
		})
	}

	if c.Providers.AKTools.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "providers.aktools.base_url",
			Message: "AKTools base URL is required",
		})
	}

	if c.Providers.AKTools.Timeout < 100 {
		errors = append(errors, ValidationError{
			Field:   "providers.aktools.timeout",
			Message: "AKTools timeout must be at least 100ms",
		})
	}

	return errors
}

func (c *Config) validateStrategy() ValidationErrors {
	var errors ValidationErrors

	if c.Strategy.Profile == "" {
		errors = append(errors, ValidationError{
			Field:   "strategy.profile",
			Message: "Strategy weights profile name is required",
		})
	}

	return errors
}

func (c *Config) validateCache() ValidationErrors {
	var errors ValidationErrors

	if c.Cache.MemorySize < 1 {
		errors = append(errors, ValidationError{
			Field:   "cache.memory_size",
			Message: "Cache memory size must be at least 1 entry",
		})
	}

	ttls := []struct {
		field string
		value int
	}{
		{"cache.snapshot_ttl", c.Cache.SnapshotTTL},
		{"cache.macro_ttl", c.Cache.MacroTTL},
		{"cache.policy_news_ttl", c.Cache.PolicyNewsTTL},
		{"cache.sector_flows_ttl", c.Cache.SectorFlowsTTL},
		{"cache.artifact_ttl", c.Cache.ArtifactTTL},
	}
	for _, ttl := range ttls {
		if ttl.value < 1 {
			errors = append(errors, ValidationError{
				Field:   ttl.field,
				Message: "Cache TTL must be at least 1 second",
			})
		}
	}

	if c.Cache.WaitTimeout < 100 {
		errors = append(errors, ValidationError{
			Field:   "cache.wait_timeout",
			Message: "Cache wait timeout must be at least 100ms",
		})
	}

	return errors
}

func (c *Config) validateHealth() ValidationErrors {
	var errors ValidationErrors

	if c.Health.MaxErrors < 1 {
		errors = append(errors, ValidationError{
			Field:   "health.max_errors",
			Message: "Health max_errors must be at least 1",
		})
	}

	if c.Health.Cooldown < 1 {
		errors = append(errors, ValidationError{
			Field:   "health.cooldown",
			Message: "Health cooldown must be at least 1 second",
		})
	}

	return errors
}

func (c *Config) validateProbe() ValidationErrors {
	var errors ValidationErrors

	if c.Probe.Timeout < 100 {
		errors = append(errors, ValidationError{
			Field:   "probe.timeout",
			Message: "Probe timeout must be at least 100ms",
		})
	}

	if c.Probe.MacroMaxAge < 1 {
		errors = append(errors, ValidationError{
			Field:   "probe.macro_max_age",
			Message: "Probe macro_max_age must be at least 1 day",
		})
	}

	return errors
}

func (c *Config) validateGraph() ValidationErrors {
	var errors ValidationErrors

	if c.Graph.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "graph.concurrency",
			Message: "Graph concurrency must be at least 1",
		})
	}

	if c.Graph.ToolTimeout < 1000 {
		errors = append(errors, ValidationError{
			Field:   "graph.tool_timeout",
			Message: "Graph tool timeout must be at least 1000ms",
		})
	}

	budgets := []struct {
		field string
		value int
	}{
		{"graph.budgets.quick", c.Graph.Budgets.Quick},
		{"graph.budgets.standard", c.Graph.Budgets.Standard},
		{"graph.budgets.deep", c.Graph.Budgets.Deep},
	}
	for _, budget := range budgets {
		if budget.value < 1 || budget.value > 10 {
			errors = append(errors, ValidationError{
				Field:   budget.field,
				Message: fmt.Sprintf("Tool budget %d out of range. Must be between 1-10", budget.value),
			})
		}
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: "API port is required",
		})
	} else if c.API.Port < 1 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	return errors
}

func (c *Config) validateSchedule() ValidationErrors {
	var errors ValidationErrors

	if c.Schedule.MorningCron == "" {
		errors = append(errors, ValidationError{
			Field:   "schedule.morning_cron",
			Message: "Morning session crontab is required",
		})
	}

	if c.Schedule.ClosingCron == "" {
		errors = append(errors, ValidationError{
			Field:   "schedule.closing_cron",
			Message: "Closing session crontab is required",
		})
	}

	if c.Schedule.SnapshotEvery == "" {
		errors = append(errors, ValidationError{
			Field:   "schedule.snapshot_every",
			Message: "Snapshot refresh interval is required",
		})
	}

	if len(c.Schedule.Watchlist) == 0 {
		errors = append(errors, ValidationError{
			Field:   "schedule.watchlist",
			Message: "At least one watchlist symbol is required",
		})
	}

	return errors
}

func (c *Config) validateAlerts() ValidationErrors {
	var errors ValidationErrors

	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.Token == "" {
			errors = append(errors, ValidationError{
				Field:   "alerts.telegram.token",
				Message: "Telegram bot token is required when Telegram alerts are enabled",
			})
		}
		if len(c.Alerts.Telegram.ChatIDs) == 0 {
			errors = append(errors, ValidationError{
				Field:   "alerts.telegram.chat_ids",
				Message: "At least one Telegram chat ID is required when Telegram alerts are enabled",
			})
		}
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	// Production-specific validations
	if c.App.Environment == "production" {
		// Validate production secrets strength
		secretErrors := ValidateProductionSecrets(c)
		errors = append(errors, secretErrors...)

		// Ensure SSL for database in production
		if c.Database.Enabled && c.Database.SSLMode == "disable" {
			errors = append(errors, ValidationError{
				Field:   "database.ssl_mode",
				Message: "SSL must be enabled for database in production",
			})
		}

		// A live data feed needs the primary provider token
		if c.Providers.TuShare.Token == "" {
			errors = append(errors, ValidationError{
				Field:   "providers.tushare.token",
				Message: "TuShare token is required in production (MARKETMIND_PROVIDERS_TUSHARE_TOKEN or Vault)",
			})
		}
	}

	return errors
}

// ValidateAndLoad loads and validates configuration
// Returns the loaded config and any validation errors
// configPath can be empty to use default config locations
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validation is already called within Load(), but we can call it again
	// for explicit validation if Load() is modified in the future
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
