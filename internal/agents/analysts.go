package agents

import (
	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/tools"
)

// NewMacroAnalyst builds the macro environment node. It cannot produce a
// grounded artifact without macro data, so fetch_macro_data is required.
func NewMacroAnalyst(cfg Config) *Analyst {
	return &Analyst{
		kind:         artifact.KindMacro,
		cfg:          cfg,
		system:       macroSystemPrompt,
		buildUser:    buildMacroPrompt,
		toolNames:    []string{tools.FetchMacroData},
		requiredTool: tools.FetchMacroData,
		fallback: func(reason string) interface{} {
			return artifact.MacroAnalysis{
				AnalysisSummary: degradedSummary("macro", reason),
				Confidence:      fallbackConfidence,
				Liquidity:       artifact.LiquidityNeutral,
			}
		},
		log: componentLogger(artifact.KindMacro),
	}
}

// NewPolicyAnalyst builds the policy signal node. Its artifact must never
// carry position fields; any the model emits are stripped and counted.
func NewPolicyAnalyst(cfg Config) *Analyst {
	a := &Analyst{
		kind:         artifact.KindPolicy,
		cfg:          cfg,
		system:       policySystemPrompt,
		buildUser:    buildPolicyPrompt,
		toolNames:    []string{tools.FetchPolicyNews},
		requiredTool: tools.FetchPolicyNews,
		fallback: func(reason string) interface{} {
			return artifact.PolicyAnalysis{
				AnalysisSummary:        degradedSummary("policy", reason),
				Confidence:             fallbackConfidence,
				OverallSupportStrength: artifact.StrengthMedium,
				LongTermConfidence:     fallbackConfidence,
			}
		},
		log: componentLogger(artifact.KindPolicy),
	}
	a.sanitize = func(raw string) string {
		cleaned, removed := artifact.StripPositionFields(raw)
		if len(removed) > 0 {
			metrics.PositionFieldsStripped.WithLabelValues(string(artifact.KindPolicy)).Add(float64(len(removed)))
			a.log.Warn().Strs("fields", removed).Msg("Policy artifact carried position fields, stripped")
		}
		return cleaned
	}
	return a
}

// NewSectorAnalyst builds the sector rotation node. It cross-checks the
// policy artifact when present but can still rate rotation without it, so
// no tool is required.
func NewSectorAnalyst(cfg Config) *Analyst {
	return &Analyst{
		kind:      artifact.KindSector,
		cfg:       cfg,
		system:    sectorSystemPrompt,
		buildUser: buildSectorPrompt,
		toolNames: []string{
			tools.FetchSectorRotation,
			tools.FetchSectorNews,
			tools.FetchStockSectorInfo,
			tools.FetchIndexConstituents,
		},
		fallback: func(reason string) interface{} {
			return artifact.SectorAnalysis{
				AnalysisSummary: degradedSummary("sector", reason),
				Confidence:      fallbackConfidence,
			}
		},
		log: componentLogger(artifact.KindSector),
	}
}

// NewTechnicalAnalyst builds the indicator-only node.
func NewTechnicalAnalyst(cfg Config) *Analyst {
	return &Analyst{
		kind:         artifact.KindTechnical,
		cfg:          cfg,
		system:       technicalSystemPrompt,
		buildUser:    buildTechnicalPrompt,
		toolNames:    []string{tools.FetchTechnicalIndicators},
		requiredTool: tools.FetchTechnicalIndicators,
		fallback: func(reason string) interface{} {
			return artifact.TechnicalAnalysis{
				AnalysisSummary:    degradedSummary("technical", reason),
				Confidence:         fallbackConfidence,
				TrendSignal:        artifact.TrendNeutral,
				PositionSuggestion: 0.5,
			}
		},
		log: componentLogger(artifact.KindTechnical),
	}
}

// NewIntlNewsAnalyst builds the international news node. It reports only
// headlines fetched this run, so the news tool is required.
func NewIntlNewsAnalyst(cfg Config) *Analyst {
	return &Analyst{
		kind:         artifact.KindIntlNews,
		cfg:          cfg,
		system:       intlNewsSystemPrompt,
		buildUser:    buildIntlNewsPrompt,
		toolNames:    []string{tools.FetchMultiSourceNews},
		requiredTool: tools.FetchMultiSourceNews,
		fallback: func(reason string) interface{} {
			return artifact.IntlNewsAnalysis{
				AnalysisSummary: degradedSummary("international news", reason),
				Confidence:      fallbackConfidence,
				ImpactStrength:  artifact.ImpactLow,
				ImpactDuration:  artifact.DurationShort,
			}
		},
		log: componentLogger(artifact.KindIntlNews),
	}
}

// Analysts builds the five analyst nodes in graph order.
func Analysts(cfg Config) []*Analyst {
	return []*Analyst{
		NewMacroAnalyst(cfg),
		NewPolicyAnalyst(cfg),
		NewSectorAnalyst(cfg),
		NewTechnicalAnalyst(cfg),
		NewIntlNewsAnalyst(cfg),
	}
}
