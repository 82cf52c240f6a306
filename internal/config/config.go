package config

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Health     HealthConfig     `mapstructure:"health"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Graph      GraphConfig      `mapstructure:"graph"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains PostgreSQL settings for the decision log.
// The store is optional; disabled means analysis runs are not persisted.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the persistent cache tier
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS settings for the event publisher
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// LLMConfig contains settings for the OpenAI-compatible chat gateway
type LLMConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`       // "http://localhost:8080/v1/chat/completions"
	APIKey        string  `mapstructure:"api_key"`        // bearer token, usually from env or Vault
	PrimaryModel  string  `mapstructure:"primary_model"`  // "claude-sonnet-4-20250514"
	FallbackModel string  `mapstructure:"fallback_model"` // "gpt-4-turbo"
	Temperature   float64 `mapstructure:"temperature"`    // 0.7
	MaxTokens     int     `mapstructure:"max_tokens"`     // 2000
	Timeout       int     `mapstructure:"timeout"`        // 60000 (ms)
	LenientJSON   bool    `mapstructure:"lenient_json"`   // repair malformed artifact JSON before giving up
}

// ProvidersConfig holds the upstream market data providers, in failover order
type ProvidersConfig struct {
	TuShare TuShareConfig `mapstructure:"tushare"`
	AKTools AKToolsConfig `mapstructure:"aktools"`
}

// TuShareConfig contains settings for the primary TuShare HTTP provider
type TuShareConfig struct {
	Endpoint  string  `mapstructure:"endpoint"`   // "http://api.tushare.pro"
	Token     string  `mapstructure:"token"`      // account token, from env or Vault
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second
	Burst     int     `mapstructure:"burst"`
	Timeout   int     `mapstructure:"timeout"` // ms
}

// AKToolsConfig contains settings for the secondary AKTools HTTP sidecar
type AKToolsConfig struct {
	BaseURL string `mapstructure:"base_url"` // "http://127.0.0.1:8080"
	Timeout int    `mapstructure:"timeout"`  // ms
}

// StrategyConfig selects the decision weights profile
type StrategyConfig struct {
	Profile     string `mapstructure:"profile"`      // "default" or "macro-tilt"
	ProfilePath string `mapstructure:"profile_path"` // optional YAML file overriding built-ins
}

// CacheConfig contains TTLs for the tiered artifact cache (seconds)
type CacheConfig struct {
	MemorySize     int `mapstructure:"memory_size"`      // max in-memory entries
	SnapshotTTL    int `mapstructure:"snapshot_ttl"`     // 300
	MacroTTL       int `mapstructure:"macro_ttl"`        // 86400
	PolicyNewsTTL  int `mapstructure:"policy_news_ttl"`  // 21600
	SectorFlowsTTL int `mapstructure:"sector_flows_ttl"` // 3600
	ArtifactTTL    int `mapstructure:"artifact_ttl"`     // 21600
	WaitTimeout    int `mapstructure:"wait_timeout"`     // ms a caller waits on an in-flight compute
}

// HealthConfig contains source health registry thresholds
type HealthConfig struct {
	MaxErrors int `mapstructure:"max_errors"` // consecutive errors before cooling
	Cooldown  int `mapstructure:"cooldown"`   // seconds before a probing attempt
}

// ProbeConfig contains data source probe settings
type ProbeConfig struct {
	Timeout     int `mapstructure:"timeout"`       // ms per live check
	MacroMaxAge int `mapstructure:"macro_max_age"` // days a cached macro artifact counts as fresh
}

// GraphConfig contains agent graph scheduler settings
type GraphConfig struct {
	Concurrency int          `mapstructure:"concurrency"` // parallel analyst limit
	ToolTimeout int          `mapstructure:"tool_timeout"` // ms per tool dispatch
	Budgets     BudgetConfig `mapstructure:"budgets"`
}

// BudgetConfig contains per-depth tool-call budgets
type BudgetConfig struct {
	Quick    int `mapstructure:"quick"`
	Standard int `mapstructure:"standard"`
	Deep     int `mapstructure:"deep"`
}

// ForDepth returns the tool budget for a research depth string.
func (b BudgetConfig) ForDepth(depth string) int {
	switch depth {
	case "quick":
		return b.Quick
	case "deep":
		return b.Deep
	default:
		return b.Standard
	}
}

// MCPConfig lists external MCP servers whose tools are mounted into the registry
type MCPConfig struct {
	Servers []MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig contains configuration for one MCP server
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    string            `mapstructure:"type"`    // "internal" (stdio) or "external" (SSE)
	Command string            `mapstructure:"command"` // path to binary (internal)
	Args    []string          `mapstructure:"args"`
	URL     string            `mapstructure:"url"` // endpoint (external)
	Env     map[string]string `mapstructure:"env"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// ScheduleConfig contains session-driven scheduler settings
type ScheduleConfig struct {
	MorningCron   string   `mapstructure:"morning_cron"`   // "25 9 * * 1-5"
	ClosingCron   string   `mapstructure:"closing_cron"`   // "55 14 * * 1-5"
	SnapshotEvery string   `mapstructure:"snapshot_every"` // "@every 5m"
	Watchlist     []string `mapstructure:"watchlist"`
	Timezone      string   `mapstructure:"timezone"`
}

// AlertsConfig contains alert channel settings
type AlertsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig contains Telegram alert settings
type TelegramConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Token   string  `mapstructure:"token"`
	ChatIDs []int64 `mapstructure:"chat_ids"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("MARKETMIND")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Vault overrides land before validation so the production checks see
	// the resolved secrets, not the placeholders.
	if vaultCfg := GetVaultConfigFromEnv(); vaultCfg.Enabled {
		if err := LoadSecretsFromVault(context.Background(), &cfg, vaultCfg); err != nil {
			return nil, fmt.Errorf("failed to load secrets from Vault: %w", err)
		}
	}

	// Validate configuration using comprehensive validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "MarketMind")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Database defaults (decision log, optional)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "marketmind")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults (persistent cache tier; failures degrade to miss)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults (event publisher, optional)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	// LLM defaults
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.fallback_model", "gpt-4-turbo")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", 60000)
	v.SetDefault("llm.lenient_json", false)

	// Provider defaults
	v.SetDefault("providers.tushare.endpoint", "http://api.tushare.pro")
	v.SetDefault("providers.tushare.rate_limit", 2.0)
	v.SetDefault("providers.tushare.burst", 4)
	v.SetDefault("providers.tushare.timeout", 5000)
	v.SetDefault("providers.aktools.base_url", "http://127.0.0.1:8080")
	v.SetDefault("providers.aktools.timeout", 5000)

	// Strategy defaults
	v.SetDefault("strategy.profile", "default")

	// Cache defaults (seconds)
	v.SetDefault("cache.memory_size", 512)
	v.SetDefault("cache.snapshot_ttl", 300)
	v.SetDefault("cache.macro_ttl", 86400)
	v.SetDefault("cache.policy_news_ttl", 21600)
	v.SetDefault("cache.sector_flows_ttl", 3600)
	v.SetDefault("cache.artifact_ttl", 21600)
	v.SetDefault("cache.wait_timeout", 10000)

	// Health registry defaults
	v.SetDefault("health.max_errors", 3)
	v.SetDefault("health.cooldown", 300)

	// Probe defaults
	v.SetDefault("probe.timeout", 5000)
	v.SetDefault("probe.macro_max_age", 7)

	// Graph defaults
	v.SetDefault("graph.concurrency", 4)
	v.SetDefault("graph.tool_timeout", 15000)
	v.SetDefault("graph.budgets.quick", 3)
	v.SetDefault("graph.budgets.standard", 4)
	v.SetDefault("graph.budgets.deep", 5)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Schedule defaults (A-share session times)
	v.SetDefault("schedule.morning_cron", "25 9 * * 1-5")
	v.SetDefault("schedule.closing_cron", "55 14 * * 1-5")
	v.SetDefault("schedule.snapshot_every", "@every 5m")
	v.SetDefault("schedule.watchlist", []string{"000001.SH"})
	v.SetDefault("schedule.timezone", "Asia/Shanghai")

	// Alert defaults
	v.SetDefault("alerts.telegram.enabled", false)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.PoolSize,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTimeout returns the LLM timeout as time.Duration
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetTimeout returns the TuShare request timeout as time.Duration
func (c *TuShareConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetTimeout returns the AKTools request timeout as time.Duration
func (c *AKToolsConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetCooldown returns the health cooldown as time.Duration
func (c *HealthConfig) GetCooldown() time.Duration {
	return time.Duration(c.Cooldown) * time.Second
}

// GetTimeout returns the probe live-check timeout as time.Duration
func (c *ProbeConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetMacroMaxAge returns the macro cache recency window as time.Duration
func (c *ProbeConfig) GetMacroMaxAge() time.Duration {
	return time.Duration(c.MacroMaxAge) * 24 * time.Hour
}

// GetToolTimeout returns the per-tool dispatch timeout as time.Duration
func (c *GraphConfig) GetToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeout) * time.Millisecond
}

// GetWaitTimeout returns the cache in-flight wait timeout as time.Duration
func (c *CacheConfig) GetWaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeout) * time.Millisecond
}
