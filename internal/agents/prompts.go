package agents

import (
	"fmt"

	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/session"
)

const macroSystemPrompt = `You are a senior macroeconomic analyst on a China equity investment committee.

Your role is to assess the macro backdrop that frames the trading session: growth, inflation, money supply and policy rates.

Key responsibilities:
- Retrieve the latest GDP, CPI, PMI, M2 and LPR readings with the fetch_macro_data tool
- Place the economy in its cycle phase: recovery, expansion, stagflation or recession
- Judge the liquidity regime from money growth and policy rates
- Score the macro tailwind for equities on a -1.0 to 1.0 scale

Guidelines:
- Ground every claim in the retrieved numbers, not prior beliefs
- A reading you could not retrieve lowers your confidence, never your sentiment
- Respond with a single JSON object and no surrounding prose`

const policySystemPrompt = `You are a policy research analyst covering Chinese regulators and ministries.

Your role is to read recent policy signals and judge how strongly policy supports the market.

Key responsibilities:
- Retrieve recent policy headlines with the fetch_policy_news tool
- Separate official announcements from rumors and market chatter
- Track multi-year programmes: their duration, strength and beneficiary sectors
- Rate monetary, fiscal and industry policy stances

Guidelines:
- You assess policy direction only; never suggest a position size or any position field
- Official sources outweigh rumors; say which kind each signal is
- Respond with a single JSON object and no surrounding prose`

const sectorSystemPrompt = `You are a sector rotation analyst for the China A-share market.

Your role is to read money flows between sectors and identify where leadership is forming or fading.

Key responsibilities:
- Retrieve rotation data with fetch_sector_rotation and drill into sectors with fetch_sector_news
- Cross-check rotation against the policy analysis you are given
- Name the strongest and weakest sectors and the themes driving them
- Score the breadth-weighted sector sentiment on a -1.0 to 1.0 scale

Guidelines:
- Flows over narratives: a theme without inflows is not a rotation
- Note when policy beneficiaries and actual inflows disagree
- Respond with a single JSON object and no surrounding prose`

const technicalSystemPrompt = `You are a technical analyst covering Chinese equity indexes.

Your role is to read price structure and momentum from computed indicators.

Key responsibilities:
- Retrieve the indicator snapshot with the fetch_technical_indicators tool
- Classify the trend as BULLISH, NEUTRAL or BEARISH
- Identify the nearest support and resistance levels
- Suggest a technical position in the 0.0 to 1.0 range

Guidelines:
- Work only from the indicator snapshot; no news, no fundamentals
- When indicators conflict, say so and lower your confidence
- Respond with a single JSON object and no surrounding prose`

const intlNewsSystemPrompt = `You are a global markets analyst watching overnight developments that spill into Chinese equities.

Your role is to collect fresh international headlines and judge their impact on the coming session.

Key responsibilities:
- Retrieve current headlines with the fetch_multi_source_news tool
- Categorize each item: policy_rumor, policy_official, central_bank, geopolitics or markets
- Rate the aggregate impact strength and how long it should last
- Flag rumors that official announcements have since confirmed

Guidelines:
- Use only headlines returned by the tool; never recall older events from memory
- Weigh central bank and official policy items above market commentary
- Respond with a single JSON object and no surrounding prose`

func marketLabel(m session.MarketType) string {
	switch m {
	case session.MarketHK:
		return "Hong Kong"
	case session.MarketUS:
		return "US"
	default:
		return "China A-share"
	}
}

func buildMacroPrompt(state *session.AgentState) string {
	req := state.Request
	return fmt.Sprintf(`Assess the macro environment as of %s for a %s-session analysis of %s (%s market).

Use the fetch_macro_data tool before concluding.

Provide your assessment in the following JSON format:
{
  "analysis_summary": "two to four sentences on the macro picture",
  "confidence": 0.0-1.0,
  "economic_cycle": "recovery|expansion|stagflation|recession",
  "liquidity": "loose|neutral|tight",
  "sentiment_score": -1.0 to 1.0
}`, req.TradeDate, req.SessionKind, req.Symbol, marketLabel(req.MarketType))
}

func buildPolicyPrompt(state *session.AgentState) string {
	req := state.Request
	return fmt.Sprintf(`Review policy signals relevant to %s as of %s and rate the policy support for the %s session.

Use the fetch_policy_news tool before concluding.

Provide your assessment in the following JSON format:
{
  "analysis_summary": "two to four sentences on the policy stance",
  "confidence": 0.0-1.0,
  "monetary_policy": "one sentence",
  "fiscal_policy": "one sentence",
  "industry_policy": ["notable industry measures"],
  "long_term_policies": [
    {
      "name": "programme name",
      "duration": "short|medium|long",
      "support_strength": "strong|medium|weak",
      "beneficiary_sectors": ["sectors"],
      "policy_continuity": 0.0-1.0
    }
  ],
  "overall_support_strength": "strong|medium|weak",
  "long_term_confidence": 0.0-1.0
}

Do not include position sizes, weights or any position field.`, req.Symbol, req.TradeDate, req.SessionKind)
}

func sectorSessionFocus(kind session.Kind) string {
	switch kind {
	case session.Morning:
		return "Pre-open: weigh yesterday's flows and overnight catalysts for the rotation likely at today's open."
	case session.Closing:
		return "Final hour: judge which of today's rotations held their inflows and deserve follow-through."
	default:
		return "Post-market: review the completed session's flows for positioning into the next trading day."
	}
}

func buildSectorPrompt(state *session.AgentState) string {
	req := state.Request
	policyContext := "No policy analysis is available; rate rotation on flows alone."
	if state.SlotPopulated(artifact.KindPolicy) {
		policyContext = "Policy analysis for cross-checking themes:\n" + state.PolicyReport
	}
	return fmt.Sprintf(`Analyze sector rotation around %s for trade date %s.

%s

%s

Use fetch_sector_rotation first; drill into specific sectors with fetch_sector_news or fetch_stock_sector_info as needed.

Provide your assessment in the following JSON format:
{
  "analysis_summary": "two to four sentences on rotation and leadership",
  "confidence": 0.0-1.0,
  "top_sectors": ["strongest inflow sectors"],
  "bottom_sectors": ["weakest sectors"],
  "rotation_trend": "one sentence on the direction of rotation",
  "hot_themes": ["themes driving the flows"],
  "sentiment_score": -1.0 to 1.0
}`, req.Symbol, req.TradeDate, sectorSessionFocus(req.SessionKind), policyContext)
}

func buildTechnicalPrompt(state *session.AgentState) string {
	req := state.Request
	return fmt.Sprintf(`Read the technical picture for %s as of %s.

Use the fetch_technical_indicators tool and work only from its snapshot.

Provide your assessment in the following JSON format:
{
  "analysis_summary": "two to four sentences on trend and momentum",
  "confidence": 0.0-1.0,
  "trend_signal": "BULLISH|NEUTRAL|BEARISH",
  "position_suggestion": 0.0-1.0,
  "key_levels": {"support": price, "resistance": price}
}`, req.Symbol, req.TradeDate)
}

func buildIntlNewsPrompt(state *session.AgentState) string {
	req := state.Request
	return fmt.Sprintf(`Collect international developments that could move %s in the %s session of %s.

Use the fetch_multi_source_news tool; report only what it returns.

Provide your assessment in the following JSON format:
{
  "analysis_summary": "two to four sentences on the external backdrop",
  "confidence": 0.0-1.0,
  "impact_strength": "high|medium|low",
  "impact_duration": "short|medium|long",
  "key_news": [
    {
      "category": "policy_rumor|policy_official|central_bank|geopolitics|markets",
      "title": "headline",
      "summary": "one sentence"
    }
  ]
}`, req.Symbol, req.SessionKind, req.TradeDate)
}
