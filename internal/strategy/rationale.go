package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/llm"
)

const rationaleSystemPrompt = `You are the chief strategist of a China A-share investment committee.
You receive the committee's analyst findings and the already-computed position decision.
Write the decision rationale: 2 to 4 plain sentences connecting the findings to the position.
The numbers are final. Do not propose different numbers, do not restate every figure, do not use headings or lists.`

// RationaleWriter layers LLM prose onto a decided artifact. The numeric
// decision is authoritative: only the rationale text is replaced, and any
// model failure leaves the deterministic rationale in place.
type RationaleWriter struct {
	model llm.ChatModel
	log   zerolog.Logger
}

// NewRationaleWriter creates the writer. A nil model disables the pass.
func NewRationaleWriter(model llm.ChatModel) *RationaleWriter {
	return &RationaleWriter{
		model: model,
		log:   log.With().Str("component", "rationale").Logger(),
	}
}

// Annotate asks the model for rationale prose and returns the artifact with
// only DecisionRationale replaced
func (w *RationaleWriter) Annotate(ctx context.Context, in Inputs, decided artifact.StrategyArtifact) artifact.StrategyArtifact {
	if w == nil || w.model == nil {
		return decided
	}

	payload, err := rationalePayload(in, decided)
	if err != nil {
		w.log.Warn().Err(err).Msg("Skipping rationale pass")
		return decided
	}

	reply, err := w.model.Invoke(ctx, []llm.Message{
		llm.SystemMessage(rationaleSystemPrompt),
		llm.UserMessage(payload),
	}, nil)
	if err != nil {
		w.log.Warn().Err(err).Msg("Rationale model call failed, keeping deterministic text")
		return decided
	}

	prose := ""
	if reply != nil {
		prose = strings.TrimSpace(reply.Content)
	}
	if prose == "" {
		w.log.Warn().Msg("Rationale model returned no prose, keeping deterministic text")
		return decided
	}

	decided.DecisionRationale = prose
	return decided
}

// rationalePayload serializes the inputs the model may talk about together
// with the computed decision
func rationalePayload(in Inputs, decided artifact.StrategyArtifact) (string, error) {
	view := map[string]interface{}{
		"session": in.Session,
		"decision": map[string]interface{}{
			"final_position":      decided.FinalPosition,
			"position_breakdown":  decided.PositionBreakdown,
			"adjustment_triggers": decided.AdjustmentTriggers,
			"market_outlook":      decided.MarketOutlook,
			"confidence":          decided.Confidence,
			"degraded":            decided.Degraded,
		},
	}
	if in.Macro != nil {
		view["macro"] = in.Macro
	}
	if in.Policy != nil {
		view["policy"] = in.Policy
	}
	if in.Sector != nil {
		view["sector"] = in.Sector
	}
	if in.IntlNews != nil {
		view["intl_news"] = in.IntlNews
	}
	if in.Technical != nil {
		view["technical"] = in.Technical
	}

	data, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("failed to encode rationale payload: %w", err)
	}
	return string(data), nil
}
