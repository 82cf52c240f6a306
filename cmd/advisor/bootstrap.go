package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/alerts"
	"github.com/marketmind-ai/marketmind/internal/cache"
	"github.com/marketmind-ai/marketmind/internal/config"
	"github.com/marketmind-ai/marketmind/internal/events"
	"github.com/marketmind-ai/marketmind/internal/health"
	"github.com/marketmind-ai/marketmind/internal/llm"
	"github.com/marketmind-ai/marketmind/internal/marketdata"
	"github.com/marketmind-ai/marketmind/internal/orchestrator"
	"github.com/marketmind-ai/marketmind/internal/probe"
	"github.com/marketmind-ai/marketmind/internal/snapshot"
	"github.com/marketmind-ai/marketmind/internal/store"
	"github.com/marketmind-ai/marketmind/internal/strategy"
	"github.com/marketmind-ai/marketmind/internal/tools"
)

// runtime holds every component wired for one advisor process.
type runtime struct {
	cfg      *config.Config
	health   *health.Registry
	facade   *marketdata.Facade
	memory   *cache.Memory
	tiered   *cache.Tiered
	redis    *redis.Client
	prober   *probe.Prober
	model    llm.ChatModel
	registry *tools.Registry
	mcp      *tools.MCPMounter
	pool     *pgxpool.Pool
	store    *store.Store
	events   *events.Publisher
	alerts   *alerts.Manager
	snaps    *snapshot.Engine
	engine   *orchestrator.Engine
}

// buildRuntime wires the full pipeline from configuration. Optional
// collaborators (decision log, Redis tier, NATS, Telegram, MCP servers) are
// skipped when disabled; the engine runs with what remains.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	rt.health = newHealthRegistry(cfg)
	rt.facade = buildFacade(cfg, rt.health)
	rt.memory, rt.tiered, rt.redis = buildCache(cfg)
	rt.prober = probe.New(rt.facade, rt.tiered, probe.Config{
		Timeout:     cfg.Probe.GetTimeout(),
		MacroMaxAge: cfg.Probe.GetMacroMaxAge(),
	})

	rt.model = buildModel(cfg)

	rt.registry = tools.NewRegistry()
	if err := tools.NewBuiltins(rt.facade, rt.tiered).RegisterAll(rt.registry); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to register built-in tools: %w", err)
	}
	if len(cfg.MCP.Servers) > 0 {
		rt.mcp = tools.NewMCPMounter(cfg.App.Name, cfg.App.Version)
		for _, server := range cfg.MCP.Servers {
			mounted, err := rt.mcp.Mount(ctx, rt.registry, tools.MCPServerConfig{
				Name:    server.Name,
				Type:    server.Type,
				Command: server.Command,
				Args:    server.Args,
				Env:     server.Env,
				URL:     server.URL,
			})
			if err != nil {
				// a missing optional server must not block analysis
				log.Warn().Err(err).Str("server", server.Name).Msg("MCP server not mounted")
				continue
			}
			log.Info().Str("server", server.Name).Int("tools", mounted).Msg("MCP tools available")
		}
	}

	profile, err := loadProfile(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Database.Enabled {
		pool, err := store.ConnectPool(ctx, cfg.Database.GetDSN())
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("decision log unavailable: %w", err)
		}
		rt.pool = pool
		rt.store = store.New(pool)
		if err := rt.store.EnsureSchema(ctx); err != nil {
			rt.Close()
			return nil, err
		}
	}

	if cfg.NATS.Enabled {
		pub, err := events.Connect(events.Config{URL: cfg.NATS.URL})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.events = pub
	}

	rt.alerts, err = buildAlerts(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	sinks := []snapshot.AnomalySink{alerts.NewAnomalySink(rt.alerts)}
	if rt.events != nil {
		sinks = append(sinks, events.NewAnomalySink(rt.events))
	}
	rt.snaps = snapshot.New(rt.facade, rt.memory, snapshot.Config{
		TTL: time.Duration(cfg.Cache.SnapshotTTL) * time.Second,
	}, sinks...)

	engine, err := orchestrator.NewEngine(orchestrator.Config{
		Concurrency: cfg.Graph.Concurrency,
		ToolTimeout: cfg.Graph.GetToolTimeout(),
		LenientJSON: cfg.LLM.LenientJSON,
		Profile:     profile,
	}, orchestrator.Deps{
		Model:    rt.model,
		Registry: rt.registry,
		Prober:   rt.prober,
		Store:    rt.store,
		Events:   rt.events,
		Alerts:   rt.alerts,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = engine

	return rt, nil
}

func newHealthRegistry(cfg *config.Config) *health.Registry {
	return health.NewRegistry(health.Config{
		MaxErrors: cfg.Health.MaxErrors,
		Cooldown:  cfg.Health.GetCooldown(),
	})
}

func buildFacade(cfg *config.Config, registry *health.Registry) *marketdata.Facade {
	tushare := marketdata.NewTuShareClient(marketdata.TuShareConfig{
		Endpoint:        cfg.Providers.TuShare.Endpoint,
		Token:           cfg.Providers.TuShare.Token,
		Timeout:         cfg.Providers.TuShare.GetTimeout(),
		RateLimitPerMin: int(cfg.Providers.TuShare.RateLimit * 60),
	})
	aktools := marketdata.NewAKToolsClient(marketdata.AKToolsConfig{
		Endpoint: cfg.Providers.AKTools.BaseURL,
		Timeout:  cfg.Providers.AKTools.GetTimeout(),
	})
	return marketdata.NewFacade(tushare, aktools, registry, marketdata.FacadeConfig{})
}

func buildCache(cfg *config.Config) (*cache.Memory, *cache.Tiered, *redis.Client) {
	memory := cache.NewMemory(cfg.Cache.MemorySize, cache.DefaultSweepInterval)

	var redisTier *cache.RedisTier
	var client *redis.Client
	if cfg.Redis.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisTier = cache.NewRedisTier(client)
	}

	seconds := func(s int) time.Duration { return time.Duration(s) * time.Second }
	policy := cache.DefaultTTLPolicy()
	policy.ByKind["macro"] = seconds(cfg.Cache.MacroTTL)
	policy.ByKind["policy"] = seconds(cfg.Cache.PolicyNewsTTL)
	policy.ByKind["sector"] = seconds(cfg.Cache.SectorFlowsTTL)
	policy.ByKind["snapshot"] = seconds(cfg.Cache.SnapshotTTL)
	policy.ByKind["intl_news"] = seconds(cfg.Cache.ArtifactTTL)
	policy.ByKind["technical"] = seconds(cfg.Cache.ArtifactTTL)
	policy.ByKind["strategy"] = seconds(cfg.Cache.ArtifactTTL)

	tiered := cache.New(cache.Options{
		Memory:      memory,
		Redis:       redisTier,
		TTL:         policy,
		WaitTimeout: cfg.Cache.GetWaitTimeout(),
	})
	return memory, tiered, client
}

// buildModel returns the primary chat client, wrapped in a fallback chain
// when a second model is configured.
func buildModel(cfg *config.Config) llm.ChatModel {
	primary := llm.NewClient(llm.ClientConfig{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.PrimaryModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.GetTimeout(),
	})
	if cfg.LLM.FallbackModel == "" {
		return primary
	}

	backup := llm.NewClient(llm.ClientConfig{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.FallbackModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.GetTimeout(),
	})
	return llm.NewFallbackModel(
		[]llm.ChatModel{primary, backup},
		[]string{cfg.LLM.PrimaryModel, cfg.LLM.FallbackModel},
	)
}

func loadProfile(cfg *config.Config) (strategy.Profile, error) {
	if cfg.Strategy.ProfilePath != "" {
		profile, err := strategy.LoadFile(cfg.Strategy.ProfilePath)
		if err != nil {
			return strategy.Profile{}, fmt.Errorf("failed to load weights profile: %w", err)
		}
		return profile, nil
	}
	return strategy.ProfileByName(cfg.Strategy.Profile)
}

func buildAlerts(cfg *config.Config) (*alerts.Manager, error) {
	channels := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Alerts.Telegram.Enabled {
		tg, err := alerts.NewTelegramAlerter(cfg.Alerts.Telegram.Token, cfg.Alerts.Telegram.ChatIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram alerter: %w", err)
		}
		channels = append(channels, tg)
	}
	return alerts.NewManager(channels...), nil
}

// Close releases the runtime's connections.
func (rt *runtime) Close() {
	if rt.mcp != nil {
		rt.mcp.Close()
	}
	if rt.events != nil {
		rt.events.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis close failed")
		}
	}
	if rt.memory != nil {
		rt.memory.Stop()
	}
}
