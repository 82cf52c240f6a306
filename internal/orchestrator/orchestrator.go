// Package orchestrator assembles the analysis pipeline and drives one
// request end to end: probe, analyst graph, strategy verdict, decision log,
// event fan-out and alerting.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/agents"
	"github.com/marketmind-ai/marketmind/internal/alerts"
	"github.com/marketmind-ai/marketmind/internal/events"
	"github.com/marketmind-ai/marketmind/internal/graph"
	"github.com/marketmind-ai/marketmind/internal/llm"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/store"
	"github.com/marketmind-ai/marketmind/internal/strategy"
	"github.com/marketmind-ai/marketmind/internal/tools"
	"github.com/marketmind-ai/marketmind/internal/validation"
)

// Config tunes the engine.
type Config struct {
	Concurrency int           // parallel graph nodes, scheduler default when 0
	ToolTimeout time.Duration // per tool call, scheduler default when 0
	LenientJSON bool          // repair malformed analyst JSON
	Profile     strategy.Profile
}

// Deps carries the engine's collaborators. Model, Registry and Prober are
// required; the rest degrade to no-ops when nil so the CLI can run without
// a database or a bus.
type Deps struct {
	Model    llm.ChatModel
	Registry *tools.Registry
	Prober   graph.Prober
	Store    *store.Store
	Events   *events.Publisher
	Alerts   *alerts.Manager
}

// Result is one finished analysis.
type Result struct {
	State    *session.AgentState
	Run      *store.Run
	Duration time.Duration
}

// Engine runs analysis requests.
type Engine struct {
	nodes     graph.NodeSet
	scheduler *graph.Scheduler
	store     *store.Store
	events    *events.Publisher
	alerts    *alerts.Manager
	log       zerolog.Logger
}

// NewEngine builds the node set and wires the pipeline.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("engine requires a chat model")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("engine requires a tool registry")
	}
	if deps.Prober == nil {
		return nil, fmt.Errorf("engine requires a source prober")
	}

	profile := cfg.Profile
	if profile.Name == "" {
		profile = strategy.DefaultProfile()
	}

	agentCfg := agents.Config{
		Model:       deps.Model,
		Registry:    deps.Registry,
		LenientJSON: cfg.LenientJSON,
	}

	nodes := graph.NodeSet{
		Probe:     graph.NewHealthCheck(deps.Prober),
		Macro:     agents.NewMacroAnalyst(agentCfg),
		Policy:    agents.NewPolicyAnalyst(agentCfg),
		Sector:    agents.NewSectorAnalyst(agentCfg),
		Technical: agents.NewTechnicalAnalyst(agentCfg),
		IntlNews:  agents.NewIntlNewsAnalyst(agentCfg),
		Strategy:  agents.NewStrategyAdvisor(profile, deps.Model),
	}

	scheduler := graph.NewScheduler(deps.Registry, graph.SchedulerConfig{
		Concurrency: cfg.Concurrency,
		ToolTimeout: cfg.ToolTimeout,
	})

	return &Engine{
		nodes:     nodes,
		scheduler: scheduler,
		store:     deps.Store,
		events:    deps.Events,
		alerts:    deps.Alerts,
		log:       log.With().Str("component", "engine").Logger(),
	}, nil
}

// Analyze runs one request through the full pipeline and returns the
// finished state with its decision log row. The row is persisted and the
// completion event published when a store or publisher is configured;
// failures there are reported, never fatal to the verdict.
func (e *Engine) Analyze(ctx context.Context, req session.Request) (*Result, error) {
	if err := validation.ValidateRequest(req); err != nil {
		return nil, err
	}

	state := session.New(req)
	sess := string(state.Request.SessionKind)

	g, err := graph.Plan(state.Request.ResearchDepth, e.nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to plan run %s: %w", state.RunID, err)
	}

	e.log.Info().
		Str("run_id", state.RunID.String()).
		Str("symbol", state.Request.Symbol).
		Str("session", sess).
		Str("depth", string(state.Request.ResearchDepth)).
		Int("nodes", g.Len()).
		Msg("Analysis run starting")

	start := time.Now()
	if err := e.scheduler.Run(ctx, g, state); err != nil {
		metrics.AnalysisRuns.WithLabelValues(sess, "error").Inc()
		return nil, fmt.Errorf("run %s: %w", state.RunID, err)
	}
	duration := time.Since(start)
	metrics.AnalysisDuration.WithLabelValues(sess).Observe(duration.Seconds())

	run, err := store.FromState(state, duration)
	if err != nil {
		metrics.AnalysisRuns.WithLabelValues(sess, "error").Inc()
		return nil, fmt.Errorf("run %s completed without a verdict: %w", state.RunID, err)
	}

	outcome := "completed"
	if run.Degraded {
		outcome = "degraded"
	}
	metrics.AnalysisRuns.WithLabelValues(sess, outcome).Inc()

	e.persist(ctx, run)
	e.announce(ctx, run)

	e.log.Info().
		Str("run_id", run.RunID.String()).
		Str("symbol", run.Symbol).
		Str("session", run.SessionKind).
		Float64("final_position", run.FinalPosition).
		Str("market_outlook", run.MarketOutlook).
		Bool("degraded", run.Degraded).
		Dur("duration", duration).
		Msg("Analysis run complete")

	return &Result{State: state, Run: run, Duration: duration}, nil
}

// persist writes the decision log row. A write failure is alerted and
// logged; the verdict still stands.
func (e *Engine) persist(ctx context.Context, run *store.Run) {
	if e.store == nil {
		return
	}
	if err := e.store.InsertRun(ctx, run); err != nil {
		e.log.Error().Err(err).Str("run_id", run.RunID.String()).Msg("Decision log write failed")
		if e.alerts != nil {
			e.alerts.SendCritical(ctx, "Decision log write failed",
				fmt.Sprintf("Run %s for %s could not be persisted: %v", run.RunID, run.Symbol, err),
				map[string]interface{}{"run_id": run.RunID.String(), "symbol": run.Symbol})
		}
	}
}

// announce publishes the completion event and raises the degraded-run alert.
func (e *Engine) announce(ctx context.Context, run *store.Run) {
	if e.events != nil {
		event := events.AnalysisCompleted{
			RunID:         run.RunID,
			Symbol:        run.Symbol,
			MarketType:    run.MarketType,
			SessionKind:   run.SessionKind,
			TradeDate:     run.TradeDate,
			FinalPosition: run.FinalPosition,
			MarketOutlook: run.MarketOutlook,
			Confidence:    run.Confidence,
			Degraded:      run.Degraded,
			DurationMs:    run.DurationMs,
		}
		if err := e.events.PublishAnalysisCompleted(ctx, event); err != nil {
			e.log.Warn().Err(err).Str("run_id", run.RunID.String()).Msg("Completion event not published")
		}
	}

	if run.Degraded && e.alerts != nil {
		alert := alerts.DegradedRunAlert(run.RunID, run.Symbol, run.SessionKind, run.FinalPosition)
		if err := e.alerts.Send(ctx, alert); err != nil {
			e.log.Warn().Err(err).Str("run_id", run.RunID.String()).Msg("Degraded-run alert not delivered")
		}
	}
}
