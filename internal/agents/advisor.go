package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/llm"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/strategy"
)

// StrategyAdvisor is the terminal graph node. It calls no tools and makes
// no sizing decision of its own: position math comes from strategy.Decide,
// and the model only rewrites the rationale text afterwards.
type StrategyAdvisor struct {
	profile strategy.Profile
	writer  *strategy.RationaleWriter
	log     zerolog.Logger
}

// NewStrategyAdvisor wires a weights profile and an optional rationale
// model. A nil model keeps the deterministic rationale.
func NewStrategyAdvisor(profile strategy.Profile, model llm.ChatModel) *StrategyAdvisor {
	return &StrategyAdvisor{
		profile: profile,
		writer:  strategy.NewRationaleWriter(model),
		log:     log.With().Str("component", "strategy_advisor").Logger(),
	}
}

// Kind returns the artifact kind this node owns.
func (s *StrategyAdvisor) Kind() artifact.Kind { return artifact.KindStrategy }

// Name returns the node's graph name.
func (s *StrategyAdvisor) Name() string { return string(artifact.KindStrategy) }

// Run blends the analyst artifacts into the strategy artifact. Slots that
// hold raw unparseable text are treated as missing, which lets Decide
// degrade instead of this node failing the run.
func (s *StrategyAdvisor) Run(ctx context.Context, state *session.AgentState) (*session.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if state.SlotPopulated(artifact.KindStrategy) {
		s.log.Debug().Str("run_id", state.RunID.String()).Msg("Strategy slot already populated, skipping")
		return &session.Patch{Kind: artifact.KindStrategy}, nil
	}

	metrics.AnalystInvocations.WithLabelValues(string(artifact.KindStrategy)).Inc()

	in := s.inputs(state)
	decided := strategy.Decide(in, s.profile)
	decided = s.writer.Annotate(ctx, in, decided)

	raw, err := json.Marshal(decided)
	if err != nil {
		return nil, fmt.Errorf("failed to encode strategy artifact: %w", err)
	}

	s.log.Info().Str("run_id", state.RunID.String()).
		Float64("final_position", decided.FinalPosition).
		Str("market_outlook", decided.MarketOutlook).
		Bool("degraded", decided.Degraded).
		Msg("Strategy decided")

	msg := llm.AssistantMessage(string(raw))
	msg.Name = string(artifact.KindStrategy)
	return &session.Patch{Kind: artifact.KindStrategy, Report: string(raw), Messages: []llm.Message{msg}}, nil
}

// inputs parses the five analyst slots. Parse failures are logged and the
// slot treated as missing rather than propagated.
func (s *StrategyAdvisor) inputs(state *session.AgentState) strategy.Inputs {
	in := strategy.Inputs{Session: state.Request.SessionKind}

	if raw := state.MacroReport; raw != "" {
		var a artifact.MacroAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err == nil {
			in.Macro = &a
		} else {
			s.log.Debug().Err(err).Msg("Macro slot not parseable, treating as missing")
		}
	}
	if raw := state.PolicyReport; raw != "" {
		var a artifact.PolicyAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err == nil {
			in.Policy = &a
		} else {
			s.log.Debug().Err(err).Msg("Policy slot not parseable, treating as missing")
		}
	}
	if raw := state.SectorReport; raw != "" {
		var a artifact.SectorAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err == nil {
			in.Sector = &a
		} else {
			s.log.Debug().Err(err).Msg("Sector slot not parseable, treating as missing")
		}
	}
	if raw := state.TechnicalReport; raw != "" {
		var a artifact.TechnicalAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err == nil {
			in.Technical = &a
		} else {
			s.log.Debug().Err(err).Msg("Technical slot not parseable, treating as missing")
		}
	}
	if raw := state.IntlNewsReport; raw != "" {
		var a artifact.IntlNewsAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err == nil {
			in.IntlNews = &a
		} else {
			s.log.Debug().Err(err).Msg("Intl news slot not parseable, treating as missing")
		}
	}
	return in
}
