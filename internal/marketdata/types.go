// Package marketdata provides the data provider facade: a uniform,
// health-gated interface over the primary TuShare HTTP API and the
// secondary AKTools (AKShare) HTTP API.
package marketdata

import (
	"time"
)

// Source names used by the health registry and metrics
const (
	SourceTuShare = "tushare"
	SourceAKTools = "aktools"
)

// MacroIndicators aggregates the headline macro series
type MacroIndicators struct {
	GDPGrowth    float64   `json:"gdp_growth"`     // year-over-year, percent
	CPI          float64   `json:"cpi"`            // year-over-year, percent
	PMI          float64   `json:"pmi"`            // manufacturing PMI level
	M2Growth     float64   `json:"m2_growth"`      // year-over-year, percent
	LPR1Y        float64   `json:"lpr_1y"`         // 1-year loan prime rate, percent
	PeriodEnd    string    `json:"period_end"`     // YYYYMMDD of the latest covered period
	RetrievedAt  time.Time `json:"retrieved_at"`
	SourceOfData string    `json:"source"`
}

// IsZero reports whether no series was populated
func (m MacroIndicators) IsZero() bool {
	return m.GDPGrowth == 0 && m.CPI == 0 && m.PMI == 0 && m.M2Growth == 0 && m.LPR1Y == 0
}

// NewsItem is a single headline from any news feed
type NewsItem struct {
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Source      string    `json:"source,omitempty"`
	Category    string    `json:"category,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// SectorFlow is one sector's money flow for a trade date
type SectorFlow struct {
	Sector        string  `json:"sector"`
	NetInflow     float64 `json:"net_inflow"` // CNY, signed
	ChangePercent float64 `json:"change_percent"`
	TurnoverRate  float64 `json:"turnover_rate,omitempty"`
	Rank          int     `json:"rank"`
}

// SectorFlows groups a trade date's sector flows into slices analysts consume
type SectorFlows struct {
	TradeDate string       `json:"trade_date"`
	Top       []SectorFlow `json:"top"`
	Bottom    []SectorFlow `json:"bottom"`
	All       []SectorFlow `json:"all"`
	Degraded  bool         `json:"degraded,omitempty"`
}

// DailyBar is one day's OHLCV for an index or stock
type DailyBar struct {
	TradeDate     string  `json:"trade_date"` // YYYYMMDD
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	PreClose      float64 `json:"pre_close,omitempty"`
	Volume        float64 `json:"volume"`
	Amount        float64 `json:"amount,omitempty"`
	ChangePercent float64 `json:"change_percent,omitempty"`
}

// Constituent is one index member
type Constituent struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight,omitempty"` // percent of index
}

// IndexValuation is a point-in-time valuation for an index
type IndexValuation struct {
	Code        string    `json:"code"`
	PE          float64   `json:"pe"`
	PB          float64   `json:"pb"`
	DividendPct float64   `json:"dividend_yield,omitempty"`
	TradeDate   string    `json:"trade_date"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// IndexInfo resolves a code to its display name and market
type IndexInfo struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market string `json:"market,omitempty"`
}

// NewsResult carries news plus the degradation marker set when the feed
// was substituted by keyword-filtering the general list
type NewsResult struct {
	Items        []NewsItem `json:"items"`
	Degraded     bool       `json:"degraded,omitempty"`
	FallbackNote string     `json:"fallback_note,omitempty"`
}
