package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/health"
	"github.com/marketmind-ai/marketmind/internal/indicators"
	"github.com/marketmind-ai/marketmind/internal/metrics"
)

const (
	defaultCallTimeout      = 5 * time.Second
	defaultIndicatorTimeout = 15 * time.Second
	indicatorLookbackDays   = 180
)

// Keyword fallbacks for feeds that have no second provider
var (
	policyKeywords = []string{
		"政策", "央行", "国务院", "证监会", "财政部", "发改委",
		"降准", "降息", "监管", "规划", "改革",
	}
	intlKeywords = []string{
		"美联储", "美股", "欧洲", "日本", "全球", "海外",
		"原油", "黄金", "加息", "Fed",
	}
)

// Well-known index display names; unknown codes pass through
var indexNames = map[string]string{
	"000001.SH": "上证指数",
	"000300.SH": "沪深300",
	"000905.SH": "中证500",
	"399001.SZ": "深证成指",
	"399006.SZ": "创业板指",
}

// FacadeConfig tunes the facade's timeouts
type FacadeConfig struct {
	CallTimeout      time.Duration
	IndicatorTimeout time.Duration
}

// Facade is the uniform entry point for market data. Every operation walks
// an ordered source list, skipping sources the health registry has cooling,
// and classifies failures before falling through to the next source.
type Facade struct {
	tushare          *TuShareClient
	aktools          *AKToolsClient
	health           *health.Registry
	callTimeout      time.Duration
	indicatorTimeout time.Duration
	log              zerolog.Logger
}

// NewFacade wires the providers and health registry together
func NewFacade(tushare *TuShareClient, aktools *AKToolsClient, registry *health.Registry, cfg FacadeConfig) *Facade {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.IndicatorTimeout <= 0 {
		cfg.IndicatorTimeout = defaultIndicatorTimeout
	}
	if registry == nil {
		registry = health.NewRegistry(health.DefaultConfig())
	}
	return &Facade{
		tushare:          tushare,
		aktools:          aktools,
		health:           registry,
		callTimeout:      cfg.CallTimeout,
		indicatorTimeout: cfg.IndicatorTimeout,
		log:              log.With().Str("component", "facade").Logger(),
	}
}

// Health exposes the registry for the probe and API layers
func (f *Facade) Health() *health.Registry {
	return f.health
}

// attempt is one source's try at an operation
type attempt struct {
	source string
	call   func(ctx context.Context) error
}

// failover walks the attempts in order. Cooling sources are skipped, each
// call gets its own timeout, success resets the source and failures are
// classified and recorded before falling through. All-fail returns a typed
// DataUnavailable error; the caller still gets its zero-value result.
func (f *Facade) failover(ctx context.Context, operation string, timeout time.Duration, attempts []attempt) error {
	var lastErr error

	for _, a := range attempts {
		if a.call == nil {
			continue
		}
		if !f.health.Allow(a.source) {
			f.log.Debug().
				Str("operation", operation).
				Str("source", a.source).
				Msg("Skipping cooling source")
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := a.call(callCtx)
		cancel()

		if err == nil {
			f.health.RecordSuccess(a.source)
			return nil
		}

		f.health.RecordFailure(a.source)
		lastErr = err
		f.log.Warn().
			Str("operation", operation).
			Str("source", a.source).
			Str("class", Classify(err)).
			Err(err).
			Msg("Source failed, falling through")

		if ctx.Err() != nil {
			return NewError(KindCancelled, operation, a.source, ctx.Err())
		}
	}

	metrics.FacadeExhausted.WithLabelValues(operation).Inc()
	if lastErr == nil {
		lastErr = fmt.Errorf("every source cooling or unconfigured")
	}
	return NewError(KindDataUnavailable, operation, "", lastErr)
}

// GetMacroData returns the headline macro series, TuShare first
func (f *Facade) GetMacroData(ctx context.Context, endDate string) (MacroIndicators, error) {
	var out MacroIndicators

	attempts := []attempt{}
	if f.tushare != nil {
		attempts = append(attempts, attempt{SourceTuShare, func(ctx context.Context) error {
			m, err := f.tushare.MacroData(ctx, endDate)
			if err == nil {
				out = m
			}
			return err
		}})
	}
	if f.aktools != nil {
		attempts = append(attempts, attempt{SourceAKTools, func(ctx context.Context) error {
			m, err := f.aktools.MacroData(ctx, endDate)
			if err == nil {
				out = m
			}
			return err
		}})
	}

	// Macro needs several series calls per source; give it headroom
	err := f.failover(ctx, "macro", 3*f.callTimeout, attempts)
	return out, err
}

// GetPolicyNews returns policy-leaning news. There is no second provider in
// the primary path; the fallback keyword-filters the general feed and says so.
func (f *Facade) GetPolicyNews(ctx context.Context, lookbackDays int) (NewsResult, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	var items []NewsItem
	attempts := []attempt{}
	if f.aktools != nil {
		attempts = append(attempts, attempt{SourceAKTools, func(ctx context.Context) error {
			got, err := f.aktools.PolicyNews(ctx, lookbackDays)
			if err == nil {
				items = got
			}
			return err
		}})
	}

	if err := f.failover(ctx, "policy_news", f.callTimeout, attempts); err == nil {
		return NewsResult{Items: items}, nil
	}

	general, gerr := f.GetLatestNews(ctx, 100)
	if gerr != nil {
		return NewsResult{}, NewError(KindDataUnavailable, "policy_news", "", gerr)
	}

	filtered := filterByKeywords(general, policyKeywords)
	if len(filtered) == 0 {
		return NewsResult{}, NewError(KindDataUnavailable, "policy_news", "",
			fmt.Errorf("no policy-tagged items in general feed"))
	}

	metrics.FacadeDegraded.WithLabelValues("policy_news").Inc()
	f.log.Info().Int("items", len(filtered)).Msg("Policy news degraded to keyword filter")
	return NewsResult{
		Items:        filtered,
		Degraded:     true,
		FallbackNote: "policy feed unavailable; keyword-filtered general news, reduced precision",
	}, nil
}

// GetInternationalNews returns global headlines, optionally narrowed by
// caller keywords, with the same keyword-filter fallback as policy news.
func (f *Facade) GetInternationalNews(ctx context.Context, keywords []string, lookbackDays int) (NewsResult, error) {
	if lookbackDays <= 0 {
		lookbackDays = 3
	}

	var items []NewsItem
	attempts := []attempt{}
	if f.aktools != nil {
		attempts = append(attempts, attempt{SourceAKTools, func(ctx context.Context) error {
			got, err := f.aktools.InternationalNews(ctx, lookbackDays)
			if err == nil {
				items = got
			}
			return err
		}})
	}

	if err := f.failover(ctx, "intl_news", f.callTimeout, attempts); err == nil {
		if len(keywords) > 0 {
			if narrowed := filterByKeywords(items, keywords); len(narrowed) > 0 {
				items = narrowed
			}
		}
		return NewsResult{Items: items}, nil
	}

	general, gerr := f.GetLatestNews(ctx, 100)
	if gerr != nil {
		return NewsResult{}, NewError(KindDataUnavailable, "intl_news", "", gerr)
	}

	kw := keywords
	if len(kw) == 0 {
		kw = intlKeywords
	}
	filtered := filterByKeywords(general, kw)
	if len(filtered) == 0 {
		return NewsResult{}, NewError(KindDataUnavailable, "intl_news", "",
			fmt.Errorf("no international items in general feed"))
	}

	metrics.FacadeDegraded.WithLabelValues("intl_news").Inc()
	f.log.Info().Int("items", len(filtered)).Msg("International news degraded to keyword filter")
	return NewsResult{
		Items:        filtered,
		Degraded:     true,
		FallbackNote: "international feed unavailable; keyword-filtered general news, reduced precision",
	}, nil
}

// GetLatestNews returns the general flash-news feed
func (f *Facade) GetLatestNews(ctx context.Context, limit int) ([]NewsItem, error) {
	if limit <= 0 {
		limit = 50
	}

	var items []NewsItem
	attempts := []attempt{}
	if f.tushare != nil {
		attempts = append(attempts, attempt{SourceTuShare, func(ctx context.Context) error {
			got, err := f.tushare.LatestNews(ctx, limit)
			if err == nil {
				items = got
			}
			return err
		}})
	}
	if f.aktools != nil {
		attempts = append(attempts, attempt{SourceAKTools, func(ctx context.Context) error {
			got, err := f.aktools.LatestNews(ctx, limit)
			if err == nil {
				items = got
			}
			return err
		}})
	}

	err := f.failover(ctx, "latest_news", f.callTimeout, attempts)
	return items, err
}

// GetSectorFlows returns the trade date's sector money flows with the
// top and bottom slices analysts consume directly
func (f *Facade) GetSectorFlows(ctx context.Context, tradeDate string) (SectorFlows, error) {
	var flows []SectorFlow

	attempts := []attempt{}
	if f.tushare != nil {
		attempts = append(attempts, attempt{SourceTuShare, func(ctx context.Context) error {
			got, err := f.tushare.SectorFlows(ctx, tradeDate)
			if err == nil {
				flows = got
			}
			return err
		}})
	}
	if f.aktools != nil {
		attempts = append(attempts, attempt{SourceAKTools, func(ctx context.Context) error {
			got, err := f.aktools.SectorFlows(ctx, tradeDate)
			if err == nil {
				flows = got
			}
			return err
		}})
	}

	if err := f.failover(ctx, "sector_flows", f.callTimeout, attempts); err != nil {
		return SectorFlows{TradeDate: tradeDate}, err
	}

	out := SectorFlows{TradeDate: tradeDate, All: flows}
	out.Top = topSlice(flows, 10)
	out.Bottom = bottomSlice(flows, 10)
	return out, nil
}

// GetIndexDaily returns daily bars, oldest first
func (f *Facade) GetIndexDaily(ctx context.Context, code, start, end string) ([]DailyBar, error) {
	var bars []DailyBar

	attempts := []attempt{}
	if f.tushare != nil {
		attempts = append(attempts, attempt{SourceTuShare, func(ctx context.Context) error {
			got, err := f.tushare.IndexDaily(ctx, code, start, end)
			if err == nil {
				bars = got
			}
			return err
		}})
	}
	if f.aktools != nil {
		attempts = append(attempts, attempt{SourceAKTools, func(ctx context.Context) error {
			got, err := f.aktools.IndexDaily(ctx, code, start, end)
			if err == nil {
				bars = got
			}
			return err
		}})
	}

	err := f.failover(ctx, "index_daily", f.callTimeout, attempts)
	return bars, err
}

// GetIndexConstituents returns index members, heaviest weight first
func (f *Facade) GetIndexConstituents(ctx context.Context, code string) ([]Constituent, error) {
	var cons []Constituent

	attempts := []attempt{}
	if f.tushare != nil {
		attempts = append(attempts, attempt{SourceTuShare, func(ctx context.Context) error {
			got, err := f.tushare.IndexConstituents(ctx, code)
			if err == nil {
				cons = got
			}
			return err
		}})
	}
	if f.aktools != nil {
		attempts = append(attempts, attempt{SourceAKTools, func(ctx context.Context) error {
			got, err := f.aktools.IndexConstituents(ctx, code)
			if err == nil {
				cons = got
			}
			return err
		}})
	}

	err := f.failover(ctx, "index_constituents", f.callTimeout, attempts)
	return cons, err
}

// GetIndexValuation returns the latest PE/PB snapshot
func (f *Facade) GetIndexValuation(ctx context.Context, code string) (IndexValuation, error) {
	var val IndexValuation

	attempts := []attempt{}
	if f.tushare != nil {
		attempts = append(attempts, attempt{SourceTuShare, func(ctx context.Context) error {
			got, err := f.tushare.IndexValuation(ctx, code)
			if err == nil {
				val = got
			}
			return err
		}})
	}
	if f.aktools != nil {
		attempts = append(attempts, attempt{SourceAKTools, func(ctx context.Context) error {
			got, err := f.aktools.IndexValuation(ctx, code)
			if err == nil {
				val = got
			}
			return err
		}})
	}

	err := f.failover(ctx, "index_valuation", f.callTimeout, attempts)
	return val, err
}

// GetTechnicalIndicators fetches a daily-bar window and computes the
// indicator set from it. Multi-call, so it gets the longer timeout.
func (f *Facade) GetTechnicalIndicators(ctx context.Context, code string) (indicators.TechnicalIndicators, error) {
	ctx, cancel := context.WithTimeout(ctx, f.indicatorTimeout)
	defer cancel()

	end := time.Now()
	start := end.AddDate(0, 0, -indicatorLookbackDays)

	bars, err := f.GetIndexDaily(ctx, code, start.Format("20060102"), end.Format("20060102"))
	if err != nil {
		return indicators.TechnicalIndicators{}, err
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	set, err := indicators.Compute(closes, highs, lows, volumes)
	if err != nil {
		return indicators.TechnicalIndicators{}, NewError(KindDataUnavailable, "technical_indicators", "", err)
	}
	set.Code = code
	if len(bars) > 0 {
		set.TradeDate = bars[len(bars)-1].TradeDate
	}
	return set, nil
}

// ResolveIndex maps a code to its display name; unknown codes pass through
func (f *Facade) ResolveIndex(code string) IndexInfo {
	info := IndexInfo{Code: code, Name: code}
	if name, ok := indexNames[code]; ok {
		info.Name = name
	}
	switch {
	case strings.HasSuffix(code, ".SH"), strings.HasSuffix(code, ".SZ"):
		info.Market = "a_share"
	case strings.HasSuffix(code, ".HK"):
		info.Market = "hk"
	default:
		info.Market = "us"
	}
	return info
}

// PolicyTagged narrows a news list to items matching the policy keyword set
func PolicyTagged(items []NewsItem) []NewsItem {
	return filterByKeywords(items, policyKeywords)
}

func filterByKeywords(items []NewsItem, keywords []string) []NewsItem {
	var out []NewsItem
	for _, item := range items {
		text := item.Title + " " + item.Content
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

func topSlice(flows []SectorFlow, n int) []SectorFlow {
	if len(flows) < n {
		n = len(flows)
	}
	out := make([]SectorFlow, n)
	copy(out, flows[:n])
	return out
}

func bottomSlice(flows []SectorFlow, n int) []SectorFlow {
	if len(flows) < n {
		n = len(flows)
	}
	out := make([]SectorFlow, n)
	copy(out, flows[len(flows)-n:])
	return out
}
