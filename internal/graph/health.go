package graph

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/session"
)

// HealthCheckName is the root node every analyst depends on.
const HealthCheckName = "health_check"

// Prober answers which data sources can serve a run. *probe.Prober
// satisfies it.
type Prober interface {
	Run(ctx context.Context, symbol string) map[string]session.SourceStatus
}

// HealthCheck adapts the data source prober into the graph's root node. Its
// verdicts land in the state's source map; analysts behind an unavailable
// source still run and degrade on their own terms.
type HealthCheck struct {
	prober Prober
	log    zerolog.Logger
}

// NewHealthCheck wraps a prober as a graph node.
func NewHealthCheck(prober Prober) *HealthCheck {
	return &HealthCheck{
		prober: prober,
		log:    log.With().Str("component", "health_check").Logger(),
	}
}

// Name implements Node.
func (h *HealthCheck) Name() string { return HealthCheckName }

// Run probes every source and patches the verdicts into the run state.
func (h *HealthCheck) Run(ctx context.Context, state *session.AgentState) (*session.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	statuses := h.prober.Run(ctx, state.Request.Symbol)

	var unavailable []string
	for source, status := range statuses {
		if !status.Available {
			unavailable = append(unavailable, source)
		}
	}
	if len(unavailable) > 0 {
		h.log.Warn().
			Str("run_id", state.RunID.String()).
			Strs("sources", unavailable).
			Msg("Sources unavailable; dependent analysts will degrade")
	}

	return &session.Patch{SourceStatus: statuses}, nil
}
