// Package strategy holds the decision function that turns analyst artifacts
// into a position recommendation. Decide is pure: no model calls, no tool
// calls, no clock reads; the same inputs always produce the same artifact.
// Rationale prose is layered on afterwards by RationaleWriter and never
// changes the numbers.
package strategy

import (
	"fmt"
	"math"
	"strings"

	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/session"
)

// Policy limits of the strategy. The base blend is confined to a band and
// the core holding is capped regardless of how strong the signals are.
const (
	baseFloor   = 0.15
	baseCeiling = 0.90
	coreCap     = 0.4

	increaseStep  = 0.15
	increaseCap   = 0.9
	decreaseStep  = 0.2
	decreaseFloor = 0.1

	outlookBullishAt = 0.6
	outlookBearishAt = 0.35

	degradedPosition   = 0.5
	degradedConfidence = 0.3
)

// Inputs are the upstream artifacts Decide consumes. Any pointer may be nil;
// fewer than two of {macro, policy, sector} degrades the output.
type Inputs struct {
	Macro     *artifact.MacroAnalysis
	Policy    *artifact.PolicyAnalysis
	Sector    *artifact.SectorAnalysis
	IntlNews  *artifact.IntlNewsAnalysis
	Technical *artifact.TechnicalAnalysis
	Session   session.Kind
}

// Discrete strength and duration scales mapped onto the blend.
var (
	policyStrengthScore = map[string]float64{
		artifact.StrengthStrong: 1.0,
		artifact.StrengthMedium: 0.6,
		artifact.StrengthWeak:   0.3,
	}
	impactStrengthScore = map[string]float64{
		artifact.ImpactHigh:   0.9,
		artifact.ImpactMedium: 0.6,
		artifact.ImpactLow:    0.3,
	}
	durationWeight = map[string]float64{
		artifact.DurationShort:  0.5,
		artifact.DurationMedium: 1.0,
		artifact.DurationLong:   1.2,
	}
)

// signals is the complete set of fields Decide is allowed to read from the
// upstream artifacts. Position-like fields stay out on purpose; sizing is
// this function's responsibility alone.
type signals struct {
	macroPresent bool
	macroSent    float64
	macroConf    float64

	policyPresent bool
	policyScore   float64
	policyConf    float64

	sectorPresent bool
	sectorSent    float64
	sectorConf    float64

	intlPresent bool
	intlScore   float64
	intlConf    float64
	durWeight   float64

	techSignal     string
	rumorConfirmed bool
}

func extract(in Inputs) signals {
	var sig signals

	if in.Macro != nil {
		sig.macroPresent = true
		sig.macroSent = in.Macro.SentimentScore
		sig.macroConf = in.Macro.Confidence
	}
	if in.Policy != nil {
		sig.policyPresent = true
		sig.policyScore = scoreOrDefault(policyStrengthScore, in.Policy.OverallSupportStrength, 0.6)
		sig.policyConf = in.Policy.Confidence
	}
	if in.Sector != nil {
		sig.sectorPresent = true
		sig.sectorSent = in.Sector.SentimentScore
		sig.sectorConf = in.Sector.Confidence
	}
	if in.IntlNews != nil {
		sig.intlPresent = true
		sig.intlScore = scoreOrDefault(impactStrengthScore, in.IntlNews.ImpactStrength, 0.6)
		sig.intlConf = in.IntlNews.Confidence
		sig.durWeight = scoreOrDefault(durationWeight, in.IntlNews.ImpactDuration, 1.0)
		for _, item := range in.IntlNews.KeyNews {
			if item.Category == artifact.NewsPolicyOfficial {
				sig.rumorConfirmed = true
				break
			}
		}
	}
	if in.Technical != nil {
		sig.techSignal = in.Technical.TrendSignal
	}
	return sig
}

// scoreOrDefault maps an enum token to its score. Empty or unrecognized
// tokens take the neutral midpoint rather than zeroing the term.
func scoreOrDefault(table map[string]float64, token string, def float64) float64 {
	if v, ok := table[token]; ok {
		return v
	}
	return def
}

// Decide turns the analyst artifacts into the final position recommendation
func Decide(in Inputs, profile Profile) artifact.StrategyArtifact {
	sig := extract(in)

	primary := 0
	for _, present := range []bool{sig.macroPresent, sig.policyPresent, sig.sectorPresent} {
		if present {
			primary++
		}
	}
	if primary < 2 {
		return degraded(sig)
	}

	var policyTerm, intlTerm, sectorTerm float64
	if sig.policyPresent {
		policyTerm = profile.PolicyWeight * sig.policyScore * sig.policyConf
	}
	if sig.intlPresent {
		intlTerm = profile.IntlWeight * sig.intlScore * sig.intlConf * sig.durWeight
	}
	if sig.sectorPresent {
		sectorTerm = profile.SectorWeight * ((sig.sectorSent + 1) / 2) * sig.sectorConf
	}
	base := clamp(policyTerm+intlTerm+sectorTerm, baseFloor, baseCeiling)

	adjMacro := 0.0
	if sig.macroPresent {
		adjMacro = sig.macroSent * profile.MacroFactor * sig.macroConf
	}
	adjTech := techOverlay(sig.techSignal, in.Session, profile)

	final := round3(clamp(base+adjMacro+adjTech, 0, 1))

	out := artifact.StrategyArtifact{
		FinalPosition:      final,
		PositionBreakdown:  breakdown(final, sig.policyScore),
		AdjustmentTriggers: triggers(final, sig.rumorConfirmed),
		MarketOutlook:      outlook(final),
		Confidence:         round3(confidence(sig, profile)),
		AnalysisSummary:    summarize(base, adjMacro, adjTech, sig),
		DecisionRationale:  defaultRationale(final, sig),
	}
	return out
}

func techOverlay(signal string, kind session.Kind, profile Profile) float64 {
	var magnitude float64
	switch kind {
	case session.Morning:
		magnitude = profile.MorningTechOverlay
	case session.Closing:
		magnitude = profile.ClosingTechOverlay
	default:
		return 0
	}
	switch signal {
	case artifact.TrendBullish:
		return magnitude
	case artifact.TrendBearish:
		return -magnitude
	}
	return 0
}

// breakdown splits the final position. Core and tactical always sum to the
// final position, so the three components sum to one before rounding.
func breakdown(final, policyScore float64) artifact.PositionBreakdown {
	factor := 0.75
	if policyScore >= 0.6 {
		factor = 1.0
	}
	core := round3(math.Min(final, coreCap) * factor)
	tactical := round3(math.Max(final-core, 0))
	return artifact.PositionBreakdown{
		CoreHolding:        core,
		TacticalAllocation: tactical,
		CashReserve:        round3(1 - core - tactical),
	}
}

func triggers(final float64, rumorConfirmed bool) artifact.AdjustmentTriggers {
	increaseTo := math.Min(final+increaseStep, increaseCap)
	increaseCondition := "policy support broadens or sector inflows persist for another session"
	if rumorConfirmed {
		increaseTo = increaseCap
		increaseCondition = "policy rumor confirmed by official announcement"
	}
	return artifact.AdjustmentTriggers{
		IncreaseTo:        round3(increaseTo),
		IncreaseCondition: increaseCondition,
		DecreaseTo:        round3(math.Max(final-decreaseStep, decreaseFloor)),
		DecreaseCondition: "macro shock or technical trend reversal",
	}
}

func outlook(final float64) string {
	switch {
	case final >= outlookBullishAt:
		return artifact.OutlookBullish
	case final <= outlookBearishAt:
		return artifact.OutlookBearish
	default:
		return artifact.OutlookNeutral
	}
}

// confidence blends the input confidences with the same weights as the base
// position; absent inputs contribute nothing.
func confidence(sig signals, profile Profile) float64 {
	var c float64
	if sig.policyPresent {
		c += profile.PolicyWeight * sig.policyConf
	}
	if sig.intlPresent {
		c += profile.IntlWeight * sig.intlConf
	}
	if sig.sectorPresent {
		c += profile.SectorWeight * sig.sectorConf
	}
	return clamp(c, 0, 1)
}

func summarize(base, adjMacro, adjTech float64, sig signals) string {
	parts := []string{fmt.Sprintf("base %.3f", base)}
	if sig.macroPresent {
		parts = append(parts, fmt.Sprintf("macro %+.3f", adjMacro))
	}
	if sig.techSignal != "" {
		parts = append(parts, fmt.Sprintf("technical %+.3f", adjTech))
	}
	missing := missingInputs(sig)
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	return strings.Join(parts, "; ")
}

func missingInputs(sig signals) []string {
	var missing []string
	if !sig.macroPresent {
		missing = append(missing, string(artifact.KindMacro))
	}
	if !sig.policyPresent {
		missing = append(missing, string(artifact.KindPolicy))
	}
	if !sig.sectorPresent {
		missing = append(missing, string(artifact.KindSector))
	}
	if !sig.intlPresent {
		missing = append(missing, string(artifact.KindIntlNews))
	}
	return missing
}

func defaultRationale(final float64, sig signals) string {
	var drivers []string
	if sig.policyPresent {
		drivers = append(drivers, fmt.Sprintf("policy support %.1f at %.0f%% confidence", sig.policyScore, sig.policyConf*100))
	}
	if sig.intlPresent {
		drivers = append(drivers, fmt.Sprintf("international impact %.1f", sig.intlScore))
	}
	if sig.sectorPresent {
		drivers = append(drivers, fmt.Sprintf("sector sentiment %+.2f", sig.sectorSent))
	}
	return fmt.Sprintf("Position %.0f%% driven by %s.", final*100, strings.Join(drivers, ", "))
}

// degraded is the output when analyst coverage is too thin to trust the
// blend: neutral position, low confidence, and a rationale that says why.
func degraded(sig signals) artifact.StrategyArtifact {
	missing := missingInputs(sig)
	return artifact.StrategyArtifact{
		FinalPosition:      degradedPosition,
		PositionBreakdown:  breakdown(degradedPosition, sig.policyScore),
		AdjustmentTriggers: triggers(degradedPosition, false),
		MarketOutlook:      artifact.OutlookNeutral,
		Confidence:         degradedConfidence,
		AnalysisSummary:    "insufficient analyst coverage; missing " + strings.Join(missing, ", "),
		DecisionRationale:  "Holding a neutral position: fewer than two primary analyses were available for this run.",
		Degraded:           true,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
