// Package artifact defines the structured JSON outputs exchanged between
// analyst nodes and the strategy decision function, plus the validation
// rules that hold at node boundaries.
package artifact

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies which analyst produced an artifact.
type Kind string

const (
	KindMacro     Kind = "macro"
	KindPolicy    Kind = "policy"
	KindSector    Kind = "sector"
	KindTechnical Kind = "technical"
	KindIntlNews  Kind = "intl_news"
	KindStrategy  Kind = "strategy"
)

// AllKinds lists every artifact kind in graph order.
var AllKinds = []Kind{KindMacro, KindPolicy, KindSector, KindTechnical, KindIntlNews, KindStrategy}

// Valid reports whether k is a recognized artifact kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMacro, KindPolicy, KindSector, KindTechnical, KindIntlNews, KindStrategy:
		return true
	}
	return false
}

// Economic cycle phases emitted by the macro analyst.
const (
	CycleRecovery    = "recovery"
	CycleExpansion   = "expansion"
	CycleStagflation = "stagflation"
	CycleRecession   = "recession"
)

// Liquidity regimes emitted by the macro analyst.
const (
	LiquidityLoose   = "loose"
	LiquidityNeutral = "neutral"
	LiquidityTight   = "tight"
)

// Three-way support strength scale shared by policy fields.
const (
	StrengthStrong = "strong"
	StrengthMedium = "medium"
	StrengthWeak   = "weak"
)

// Impact strength and duration scales for international news.
const (
	ImpactHigh   = "high"
	ImpactMedium = "medium"
	ImpactLow    = "low"

	DurationShort  = "short"
	DurationMedium = "medium"
	DurationLong   = "long"
)

// Trend signals emitted by the technical analyst.
const (
	TrendBullish = "BULLISH"
	TrendBearish = "BEARISH"
	TrendNeutral = "NEUTRAL"
)

// Key news categories the international news analyst assigns. The strategy
// function reads NewsPolicyOfficial as confirmation that a policy rumor has
// become an official announcement.
const (
	NewsPolicyRumor    = "policy_rumor"
	NewsPolicyOfficial = "policy_official"
	NewsCentralBank    = "central_bank"
	NewsGeopolitics    = "geopolitics"
	NewsMarkets        = "markets"
)

// Market outlook tokens emitted by the strategy function.
const (
	OutlookBullish = "bullish"
	OutlookNeutral = "neutral"
	OutlookBearish = "bearish"
)

// MacroAnalysis is the macro analyst's artifact.
type MacroAnalysis struct {
	AnalysisSummary string  `json:"analysis_summary"`
	Confidence      float64 `json:"confidence"`
	EconomicCycle   string  `json:"economic_cycle"`
	Liquidity       string  `json:"liquidity"`
	SentimentScore  float64 `json:"sentiment_score"`
}

// Validate checks range and enumeration invariants.
func (m *MacroAnalysis) Validate() error {
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("macro confidence %.3f out of [0,1]", m.Confidence)
	}
	if m.SentimentScore < -1 || m.SentimentScore > 1 {
		return fmt.Errorf("macro sentiment_score %.3f out of [-1,1]", m.SentimentScore)
	}
	switch m.EconomicCycle {
	case CycleRecovery, CycleExpansion, CycleStagflation, CycleRecession, "":
	default:
		return fmt.Errorf("unknown economic_cycle %q", m.EconomicCycle)
	}
	switch m.Liquidity {
	case LiquidityLoose, LiquidityNeutral, LiquidityTight, "":
	default:
		return fmt.Errorf("unknown liquidity %q", m.Liquidity)
	}
	return nil
}

// LongTermPolicy describes one multi-year policy programme tracked by the
// policy analyst.
type LongTermPolicy struct {
	Name               string   `json:"name"`
	Duration           string   `json:"duration"`
	SupportStrength    string   `json:"support_strength"`
	BeneficiarySectors []string `json:"beneficiary_sectors,omitempty"`
	PolicyContinuity   float64  `json:"policy_continuity"`
}

// PolicyAnalysis is the policy analyst's artifact. It must never carry a
// position recommendation; that responsibility belongs to the strategy
// function alone.
type PolicyAnalysis struct {
	AnalysisSummary        string           `json:"analysis_summary"`
	Confidence             float64          `json:"confidence"`
	MonetaryPolicy         string           `json:"monetary_policy,omitempty"`
	FiscalPolicy           string           `json:"fiscal_policy,omitempty"`
	IndustryPolicy         []string         `json:"industry_policy,omitempty"`
	LongTermPolicies       []LongTermPolicy `json:"long_term_policies,omitempty"`
	OverallSupportStrength string           `json:"overall_support_strength"`
	LongTermConfidence     float64          `json:"long_term_confidence"`
}

// Validate checks range and enumeration invariants.
func (p *PolicyAnalysis) Validate() error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("policy confidence %.3f out of [0,1]", p.Confidence)
	}
	if p.LongTermConfidence < 0 || p.LongTermConfidence > 1 {
		return fmt.Errorf("policy long_term_confidence %.3f out of [0,1]", p.LongTermConfidence)
	}
	if err := validateStrength("overall_support_strength", p.OverallSupportStrength); err != nil {
		return err
	}
	for i, lt := range p.LongTermPolicies {
		if err := validateStrength(fmt.Sprintf("long_term_policies[%d].support_strength", i), lt.SupportStrength); err != nil {
			return err
		}
		if lt.PolicyContinuity < 0 || lt.PolicyContinuity > 1 {
			return fmt.Errorf("long_term_policies[%d].policy_continuity %.3f out of [0,1]", i, lt.PolicyContinuity)
		}
	}
	return nil
}

func validateStrength(field, v string) error {
	switch v {
	case StrengthStrong, StrengthMedium, StrengthWeak, "":
		return nil
	}
	return fmt.Errorf("%s: %q not in {strong, medium, weak}", field, v)
}

// SectorAnalysis is the sector rotation analyst's artifact.
type SectorAnalysis struct {
	AnalysisSummary string   `json:"analysis_summary"`
	Confidence      float64  `json:"confidence"`
	TopSectors      []string `json:"top_sectors,omitempty"`
	BottomSectors   []string `json:"bottom_sectors,omitempty"`
	RotationTrend   string   `json:"rotation_trend,omitempty"`
	HotThemes       []string `json:"hot_themes,omitempty"`
	SentimentScore  float64  `json:"sentiment_score"`
}

// Validate checks range invariants.
func (s *SectorAnalysis) Validate() error {
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("sector confidence %.3f out of [0,1]", s.Confidence)
	}
	if s.SentimentScore < -1 || s.SentimentScore > 1 {
		return fmt.Errorf("sector sentiment_score %.3f out of [-1,1]", s.SentimentScore)
	}
	return nil
}

// KeyLevels holds support and resistance prices from the technical analyst.
type KeyLevels struct {
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
}

// TechnicalAnalysis is the technical analyst's artifact.
type TechnicalAnalysis struct {
	AnalysisSummary    string    `json:"analysis_summary"`
	Confidence         float64   `json:"confidence"`
	TrendSignal        string    `json:"trend_signal"`
	PositionSuggestion float64   `json:"position_suggestion"`
	KeyLevels          KeyLevels `json:"key_levels"`
}

// Validate checks range and enumeration invariants.
func (t *TechnicalAnalysis) Validate() error {
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("technical confidence %.3f out of [0,1]", t.Confidence)
	}
	if t.PositionSuggestion < 0 || t.PositionSuggestion > 1 {
		return fmt.Errorf("technical position_suggestion %.3f out of [0,1]", t.PositionSuggestion)
	}
	switch t.TrendSignal {
	case TrendBullish, TrendBearish, TrendNeutral, "":
	default:
		return fmt.Errorf("unknown trend_signal %q", t.TrendSignal)
	}
	return nil
}

// KeyNewsItem is one categorized headline in the intl news artifact.
type KeyNewsItem struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Summary  string `json:"summary,omitempty"`
}

// IntlNewsAnalysis is the international news analyst's artifact.
type IntlNewsAnalysis struct {
	AnalysisSummary string        `json:"analysis_summary"`
	Confidence      float64       `json:"confidence"`
	ImpactStrength  string        `json:"impact_strength"`
	ImpactDuration  string        `json:"impact_duration"`
	KeyNews         []KeyNewsItem `json:"key_news,omitempty"`
}

// Validate checks range and enumeration invariants.
func (n *IntlNewsAnalysis) Validate() error {
	if n.Confidence < 0 || n.Confidence > 1 {
		return fmt.Errorf("intl_news confidence %.3f out of [0,1]", n.Confidence)
	}
	switch n.ImpactStrength {
	case ImpactHigh, ImpactMedium, ImpactLow, "":
	default:
		return fmt.Errorf("unknown impact_strength %q", n.ImpactStrength)
	}
	switch n.ImpactDuration {
	case DurationShort, DurationMedium, DurationLong, "":
	default:
		return fmt.Errorf("unknown impact_duration %q", n.ImpactDuration)
	}
	return nil
}

// PositionBreakdown splits the final position into its components. The three
// shares are non-negative and sum to 1.0 within a 0.01 tolerance.
type PositionBreakdown struct {
	CoreHolding        float64 `json:"core_holding"`
	TacticalAllocation float64 `json:"tactical_allocation"`
	CashReserve        float64 `json:"cash_reserve"`
}

// Sum returns the total of the three components.
func (b PositionBreakdown) Sum() float64 {
	return b.CoreHolding + b.TacticalAllocation + b.CashReserve
}

// AdjustmentTriggers names the conditions under which the position should move.
type AdjustmentTriggers struct {
	IncreaseTo        float64 `json:"increase_to"`
	IncreaseCondition string  `json:"increase_condition"`
	DecreaseTo        float64 `json:"decrease_to"`
	DecreaseCondition string  `json:"decrease_condition"`
}

// StrategyArtifact is the final output of the decision function.
type StrategyArtifact struct {
	AnalysisSummary    string             `json:"analysis_summary,omitempty"`
	FinalPosition      float64            `json:"final_position"`
	PositionBreakdown  PositionBreakdown  `json:"position_breakdown"`
	AdjustmentTriggers AdjustmentTriggers `json:"adjustment_triggers"`
	MarketOutlook      string             `json:"market_outlook"`
	DecisionRationale  string             `json:"decision_rationale"`
	Confidence         float64            `json:"confidence"`
	Degraded           bool               `json:"degraded,omitempty"`
}

// Validate checks the strategy output invariants.
func (s *StrategyArtifact) Validate() error {
	if s.FinalPosition < 0 || s.FinalPosition > 1 {
		return fmt.Errorf("final_position %.4f out of [0,1]", s.FinalPosition)
	}
	b := s.PositionBreakdown
	if b.CoreHolding < 0 || b.TacticalAllocation < 0 || b.CashReserve < 0 {
		return fmt.Errorf("position_breakdown has negative component: %+v", b)
	}
	if sum := b.Sum(); sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("position_breakdown sums to %.4f, want 1.0 +/- 0.01", sum)
	}
	switch s.MarketOutlook {
	case OutlookBullish, OutlookNeutral, OutlookBearish:
	default:
		return fmt.Errorf("unknown market_outlook %q", s.MarketOutlook)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("strategy confidence %.3f out of [0,1]", s.Confidence)
	}
	return nil
}

// Normalize rescales the breakdown so its components sum to exactly 1.0.
// Used after rounding or after stripping an invalid component.
func (s *StrategyArtifact) Normalize() {
	sum := s.PositionBreakdown.Sum()
	if sum <= 0 {
		s.PositionBreakdown = PositionBreakdown{CashReserve: 1}
		return
	}
	s.PositionBreakdown.CoreHolding /= sum
	s.PositionBreakdown.TacticalAllocation /= sum
	s.PositionBreakdown.CashReserve /= sum
}

// minWellFormedLen is the raw-string length at which a report slot is
// considered populated even when it does not parse as JSON.
const minWellFormedLen = 100

// SlotPopulated reports whether a raw report slot already holds a usable
// artifact: either it parses as a JSON object that validates for the kind, or
// it is a substantial raw payload preserved from an earlier run.
func SlotPopulated(kind Kind, raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}
	if err := ValidateRaw(kind, trimmed); err == nil {
		return true
	}
	return len(trimmed) >= minWellFormedLen
}

// ValidateRaw parses raw JSON as the given kind and runs its Validate method.
func ValidateRaw(kind Kind, raw string) error {
	switch kind {
	case KindMacro:
		var a MacroAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return err
		}
		return a.Validate()
	case KindPolicy:
		var a PolicyAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return err
		}
		return a.Validate()
	case KindSector:
		var a SectorAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return err
		}
		return a.Validate()
	case KindTechnical:
		var a TechnicalAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return err
		}
		return a.Validate()
	case KindIntlNews:
		var a IntlNewsAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return err
		}
		return a.Validate()
	case KindStrategy:
		var a StrategyArtifact
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return err
		}
		return a.Validate()
	}
	return fmt.Errorf("unknown artifact kind %q", kind)
}
