// Package probe checks which data sources can serve an analysis run before
// the graph starts. Each source is probed concurrently and independently,
// so one hung source never blocks or cancels the verdict on the others.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/marketmind-ai/marketmind/internal/cache"
	"github.com/marketmind-ai/marketmind/internal/marketdata"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/session"
)

// Probed source names. These are the keys of the verdict map and of
// AgentState.DataSourceStatus.
const (
	SourceMacro       = "macro"
	SourcePolicy      = "policy"
	SourceNews        = "news"
	SourceSectorFlows = "sector_flows"
	SourceTechnical   = "technical"
)

const (
	defaultProbeTimeout = 5 * time.Second

	// A macro artifact this old still answers the availability question
	macroRecencyWindow = 7 * 24 * time.Hour
	// News is perishable; a cached copy never counts as available
)

// Config tunes the prober
type Config struct {
	Timeout time.Duration
	// MacroMaxAge is how old a cached macro artifact may be and still
	// answer the probe. Defaults to the recency window.
	MacroMaxAge time.Duration
}

// Prober answers "which sources can serve this run" ahead of scheduling
type Prober struct {
	facade      *marketdata.Facade
	cache       *cache.Tiered
	timeout     time.Duration
	macroMaxAge time.Duration
	log         zerolog.Logger
}

// New creates a prober. The cache may be nil, in which case every probe
// goes to the live source.
func New(facade *marketdata.Facade, tiered *cache.Tiered, cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.MacroMaxAge <= 0 {
		cfg.MacroMaxAge = macroRecencyWindow
	}
	return &Prober{
		facade:      facade,
		cache:       tiered,
		timeout:     cfg.Timeout,
		macroMaxAge: cfg.MacroMaxAge,
		log:         log.With().Str("component", "probe").Logger(),
	}
}

// Sources returns the probed source names in stable order
func Sources() []string {
	return []string{SourceMacro, SourcePolicy, SourceNews, SourceSectorFlows, SourceTechnical}
}

type check struct {
	source string
	// cached reports a recency hit; nil means the source is never
	// satisfied from cache
	cached func(ctx context.Context) bool
	live   func(ctx context.Context) error
}

// Run probes every source concurrently and returns the verdict map.
// A cache-recency hit reports Available with SourceOfTruth "cache" and no
// upstream call; otherwise a live call decides. Probes do not share fate:
// the group carries no shared cancellation and every closure returns nil.
func (p *Prober) Run(ctx context.Context, symbol string) map[string]session.SourceStatus {
	start := time.Now()

	checks := []check{
		{
			source: SourceMacro,
			cached: p.macroCached,
			live: func(ctx context.Context) error {
				_, err := p.facade.GetMacroData(ctx, "")
				return err
			},
		},
		{
			source: SourcePolicy,
			cached: func(ctx context.Context) bool {
				return p.freshInCache(ctx, cache.Key("policy", "", cache.DateBucket(time.Now())))
			},
			live: func(ctx context.Context) error {
				_, err := p.facade.GetPolicyNews(ctx, 7)
				return err
			},
		},
		{
			source: SourceNews,
			live: func(ctx context.Context) error {
				_, err := p.facade.GetLatestNews(ctx, 10)
				return err
			},
		},
		{
			source: SourceSectorFlows,
			cached: func(ctx context.Context) bool {
				return p.freshInCache(ctx, cache.Key("sector", "", cache.DateBucket(time.Now())))
			},
			live: func(ctx context.Context) error {
				_, err := p.facade.GetSectorFlows(ctx, "")
				return err
			},
		},
		{
			source: SourceTechnical,
			cached: func(ctx context.Context) bool {
				return p.freshInCache(ctx, cache.Key("technical", symbol, cache.DateBucket(time.Now())))
			},
			live: func(ctx context.Context) error {
				end := time.Now()
				windowStart := end.AddDate(0, 0, -14)
				_, err := p.facade.GetIndexDaily(ctx, symbol,
					windowStart.Format("20060102"), end.Format("20060102"))
				return err
			},
		},
	}

	var (
		mu      sync.Mutex
		results = make(map[string]session.SourceStatus, len(checks))
	)

	var g errgroup.Group
	for _, c := range checks {
		g.Go(func() error {
			status := p.runCheck(ctx, c)
			mu.Lock()
			results[c.source] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // closures never return errors

	metrics.ProbeDuration.Observe(float64(time.Since(start).Milliseconds()))

	available := 0
	for _, s := range results {
		if s.Available {
			available++
		}
	}
	p.log.Info().
		Int("available", available).
		Int("total", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Probe complete")

	return results
}

func (p *Prober) runCheck(ctx context.Context, c check) session.SourceStatus {
	if c.cached != nil && p.cache != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, p.timeout)
		hit := c.cached(cacheCtx)
		cancel()
		if hit {
			metrics.ProbeChecks.WithLabelValues(c.source, "cache").Inc()
			return session.SourceStatus{Available: true, SourceOfTruth: "cache"}
		}
	}

	liveCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := c.live(liveCtx)
	latency := time.Since(start)

	if err != nil {
		metrics.ProbeChecks.WithLabelValues(c.source, "unavailable").Inc()
		p.log.Warn().
			Str("source", c.source).
			Dur("latency", latency).
			Err(err).
			Msg("Source probe failed")
		return session.SourceStatus{Available: false, Latency: latency, Error: err.Error()}
	}

	metrics.ProbeChecks.WithLabelValues(c.source, "api").Inc()
	return session.SourceStatus{Available: true, SourceOfTruth: "api", Latency: latency}
}

// macroCached walks back through daily buckets: a macro artifact younger
// than the recency window answers the probe without an upstream call.
func (p *Prober) macroCached(ctx context.Context) bool {
	days := int(p.macroMaxAge / (24 * time.Hour))
	now := time.Now()
	for i := 0; i <= days; i++ {
		key := cache.Key("macro", "", cache.DateBucket(now.AddDate(0, 0, -i)))
		if _, age, ok := p.cache.Get(ctx, key); ok && age <= p.macroMaxAge {
			return true
		}
	}
	return false
}

func (p *Prober) freshInCache(ctx context.Context, key string) bool {
	_, _, ok := p.cache.Get(ctx, key)
	return ok
}
