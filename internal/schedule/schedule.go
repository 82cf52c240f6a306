// Package schedule drives unattended operation: watchlist analysis runs at
// the session marks, with snapshot refresh and anomaly sweeps in between.
// Crontabs are standard five-field specs evaluated in the exchange timezone.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/orchestrator"
	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/snapshot"
)

// Defaults are the Shanghai session marks: five minutes before the opening
// auction ends and five minutes before the close.
const (
	DefaultMorningSpec = "25 9 * * 1-5"
	DefaultClosingSpec = "55 14 * * 1-5"
	DefaultRefreshSpec = "@every 5m"
	DefaultTimezone    = "Asia/Shanghai"
	DefaultRunTimeout  = 10 * time.Minute
)

// Analyzer runs one analysis request end to end.
type Analyzer interface {
	Analyze(ctx context.Context, req session.Request) (*orchestrator.Result, error)
}

// Refresher rebuilds session snapshots and sweeps movers for anomalies.
type Refresher interface {
	Build(ctx context.Context, kind session.Kind) (snapshot.Snapshot, error)
	Invalidate(kind session.Kind)
	ScanAnomalies(ctx context.Context, symbols []string) ([]snapshot.AnomalyEvent, error)
}

// Config tunes the scheduler. Zero-value fields fall back to defaults.
type Config struct {
	Watchlist   []string
	Depth       session.ResearchDepth
	MorningSpec string
	ClosingSpec string
	RefreshSpec string
	Timezone    string
	RunTimeout  time.Duration
}

// Scheduler owns the cron loop.
type Scheduler struct {
	cron      *cron.Cron
	engine    Analyzer
	snaps     Refresher
	watchlist []string
	depth     session.ResearchDepth
	timeout   time.Duration
	loc       *time.Location
	now       func() time.Time
	log       zerolog.Logger
}

// New builds the scheduler and registers its jobs: a watchlist run at the
// morning and closing marks and, when a refresher is wired, the periodic
// snapshot refresh. The refresher may be nil.
func New(cfg Config, engine Analyzer, snaps Refresher) (*Scheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("scheduler requires an analyzer")
	}
	if len(cfg.Watchlist) == 0 {
		return nil, fmt.Errorf("scheduler requires a watchlist")
	}

	if cfg.MorningSpec == "" {
		cfg.MorningSpec = DefaultMorningSpec
	}
	if cfg.ClosingSpec == "" {
		cfg.ClosingSpec = DefaultClosingSpec
	}
	if cfg.RefreshSpec == "" {
		cfg.RefreshSpec = DefaultRefreshSpec
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.Depth == "" {
		cfg.Depth = session.DepthStandard
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", cfg.Timezone, err)
	}

	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		engine:    engine,
		snaps:     snaps,
		watchlist: cfg.Watchlist,
		depth:     cfg.Depth,
		timeout:   cfg.RunTimeout,
		loc:       loc,
		now:       time.Now,
		log:       log.With().Str("component", "scheduler").Logger(),
	}

	if err := s.addJob("morning_run", cfg.MorningSpec, func(ctx context.Context) {
		s.RunWatchlist(ctx, session.Morning)
	}); err != nil {
		return nil, err
	}
	if err := s.addJob("closing_run", cfg.ClosingSpec, func(ctx context.Context) {
		s.RunWatchlist(ctx, session.Closing)
	}); err != nil {
		return nil, err
	}
	if s.snaps != nil {
		if err := s.addJob("snapshot_refresh", cfg.RefreshSpec, s.Refresh); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// addJob registers one cron entry that runs the job under the run timeout.
func (s *Scheduler) addJob(name, spec string, job func(context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		s.log.Debug().Str("job", name).Msg("Job starting")
		job(ctx)
		s.log.Debug().Str("job", name).Msg("Job finished")
	})
	if err != nil {
		return fmt.Errorf("invalid crontab %q for %s: %w", spec, name, err)
	}

	s.log.Info().Str("job", name).Str("crontab", spec).Msg("Job registered")
	return nil
}

// Start begins dispatching jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().
		Int("jobs", len(s.cron.Entries())).
		Str("timezone", s.loc.String()).
		Strs("watchlist", s.watchlist).
		Msg("Scheduler started")
}

// Stop halts dispatch and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// RunWatchlist analyzes every watchlist symbol for one session. Symbols run
// sequentially so a broad watchlist cannot starve the providers; one failed
// symbol does not stop the rest.
func (s *Scheduler) RunWatchlist(ctx context.Context, kind session.Kind) {
	s.log.Info().
		Str("session", string(kind)).
		Int("symbols", len(s.watchlist)).
		Msg("Watchlist run starting")

	for _, symbol := range s.watchlist {
		if ctx.Err() != nil {
			s.log.Warn().
				Err(ctx.Err()).
				Str("session", string(kind)).
				Msg("Watchlist run cut short")
			return
		}

		res, err := s.engine.Analyze(ctx, session.Request{
			Symbol:        symbol,
			SessionKind:   kind,
			ResearchDepth: s.depth,
		})
		if err != nil {
			s.log.Error().
				Err(err).
				Str("symbol", symbol).
				Str("session", string(kind)).
				Msg("Scheduled analysis failed")
			continue
		}

		s.log.Info().
			Str("symbol", symbol).
			Str("session", string(kind)).
			Float64("final_position", res.Run.FinalPosition).
			Str("market_outlook", res.Run.MarketOutlook).
			Bool("degraded", res.Run.Degraded).
			Msg("Scheduled analysis complete")
	}
}

// Refresh rebuilds the snapshot for the session the wall clock is in and
// sweeps the watchlist for anomalies. Mornings rebuild the morning
// composition, afternoons the closing one.
func (s *Scheduler) Refresh(ctx context.Context) {
	kind := session.Morning
	if s.now().In(s.loc).Hour() >= 12 {
		kind = session.Closing
	}

	s.snaps.Invalidate(kind)
	if _, err := s.snaps.Build(ctx, kind); err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Msg("Snapshot refresh failed")
	}

	if _, err := s.snaps.ScanAnomalies(ctx, s.watchlist); err != nil {
		s.log.Warn().Err(err).Msg("Anomaly sweep cut short")
	}
}
