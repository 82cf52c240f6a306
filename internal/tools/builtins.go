package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/cache"
	"github.com/marketmind-ai/marketmind/internal/marketdata"
)

// Built-in tool names. Analyst prompts refer to tools by these names, so
// they are part of the public contract.
const (
	FetchMacroData           = "fetch_macro_data"
	FetchPolicyNews          = "fetch_policy_news"
	FetchSectorRotation      = "fetch_sector_rotation"
	FetchIndexConstituents   = "fetch_index_constituents"
	FetchSectorNews          = "fetch_sector_news"
	FetchStockSectorInfo     = "fetch_stock_sector_info"
	FetchMultiSourceNews     = "fetch_multi_source_news"
	FetchTechnicalIndicators = "fetch_technical_indicators"
)

// Builtins wires the facade-backed tool set. Slow-moving data goes through
// the tiered cache; news tools always hit the feed because staleness is
// worse than latency there.
type Builtins struct {
	facade *marketdata.Facade
	cache  *cache.Tiered
	log    zerolog.Logger
}

// NewBuiltins creates the built-in tool set. The cache may be nil.
func NewBuiltins(facade *marketdata.Facade, tiered *cache.Tiered) *Builtins {
	return &Builtins{
		facade: facade,
		cache:  tiered,
		log:    log.With().Str("component", "builtin_tools").Logger(),
	}
}

// RegisterAll adds every built-in tool to the registry
func (b *Builtins) RegisterAll(reg *Registry) error {
	defs := []Definition{
		{
			Name:        FetchMacroData,
			Description: "Fetch the latest China macro indicators: GDP growth, CPI, PMI, M2 growth and 1Y LPR",
			Parameters: paramsSchema(`{
				"end_date": {"type": "string", "description": "Cutoff date YYYY-MM-DD, defaults to today"}
			}`),
			Handler: b.fetchMacroData,
		},
		{
			Name:        FetchPolicyNews,
			Description: "Fetch recent policy-relevant news (CCTV newscast feed, keyword-filtered fallback when degraded)",
			Parameters: paramsSchema(`{
				"lookback_days": {"type": "integer", "description": "How many days back to search, defaults to 3"}
			}`),
			Handler: b.fetchPolicyNews,
		},
		{
			Name:        FetchSectorRotation,
			Description: "Fetch today's sector money-flow ranking with top and bottom slices",
			Parameters: paramsSchema(`{
				"trade_date": {"type": "string", "description": "Trade date YYYY-MM-DD, defaults to today"}
			}`),
			Handler: b.fetchSectorRotation,
		},
		{
			Name:        FetchIndexConstituents,
			Description: "Fetch index constituents with weights, heaviest first",
			Parameters: paramsSchema(`{
				"symbol": {"type": "string", "description": "Index code such as 000300.SH"},
				"top": {"type": "integer", "description": "Return only the heaviest N constituents"}
			}`, "symbol"),
			Handler: b.fetchIndexConstituents,
		},
		{
			Name:        FetchSectorNews,
			Description: "Fetch latest news mentioning a sector name",
			Parameters: paramsSchema(`{
				"sector": {"type": "string", "description": "Sector name to match, e.g. 半导体"},
				"limit": {"type": "integer", "description": "Maximum items to return, defaults to 10"}
			}`, "sector"),
			Handler: b.fetchSectorNews,
		},
		{
			Name:        FetchStockSectorInfo,
			Description: "Fetch index identity, valuation snapshot and heaviest constituents for a symbol",
			Parameters: paramsSchema(`{
				"symbol": {"type": "string", "description": "Index code such as 000300.SH"}
			}`, "symbol"),
			Handler: b.fetchStockSectorInfo,
		},
		{
			Name:        FetchMultiSourceNews,
			Description: "Fetch international market news, optionally narrowed by keywords",
			Parameters: paramsSchema(`{
				"keywords": {"type": "array", "items": {"type": "string"}, "description": "Optional keyword filter"},
				"lookback_days": {"type": "integer", "description": "How many days back to search, defaults to 1"},
				"limit": {"type": "integer", "description": "Maximum items to return"}
			}`),
			Handler: b.fetchMultiSourceNews,
		},
		{
			Name:        FetchTechnicalIndicators,
			Description: "Compute the technical indicator snapshot (MA, MACD, RSI, KDJ, key levels) for a symbol",
			Parameters: paramsSchema(`{
				"symbol": {"type": "string", "description": "Index code such as 000001.SH"}
			}`, "symbol"),
			Handler: b.fetchTechnicalIndicators,
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register builtins: %w", err)
		}
	}
	return nil
}

// paramsSchema wraps property definitions in the JSON-schema envelope the
// chat API expects. Properties is an inline JSON object literal.
func paramsSchema(properties string, required ...string) json.RawMessage {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": json.RawMessage(properties),
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("invalid tool parameter schema: %v", err))
	}
	return data
}

func parseArgs(args string, v interface{}) error {
	s := strings.TrimSpace(args)
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func toJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}

// cached runs compute through the tiered cache when one is wired
func (b *Builtins) cached(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) (string, error) {
	if b.cache == nil {
		payload, err := compute(ctx)
		if err != nil {
			return "", err
		}
		return string(payload), nil
	}
	payload, err := b.cache.GetOrCompute(ctx, key, compute)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (b *Builtins) fetchMacroData(ctx context.Context, args string) (string, error) {
	var in struct {
		EndDate string `json:"end_date"`
	}
	if err := parseArgs(args, &in); err != nil {
		return "", err
	}

	key := cache.Key("macro", "", cache.DateBucket(time.Now()))
	return b.cached(ctx, key, func(ctx context.Context) ([]byte, error) {
		macro, err := b.facade.GetMacroData(ctx, in.EndDate)
		if err != nil {
			return nil, err
		}
		return json.Marshal(macro)
	})
}

func (b *Builtins) fetchPolicyNews(ctx context.Context, args string) (string, error) {
	var in struct {
		LookbackDays int `json:"lookback_days"`
	}
	if err := parseArgs(args, &in); err != nil {
		return "", err
	}
	if in.LookbackDays <= 0 {
		in.LookbackDays = 7
	}

	key := cache.Key("policy", fmt.Sprintf("lb%d", in.LookbackDays), cache.DateBucket(time.Now()))
	return b.cached(ctx, key, func(ctx context.Context) ([]byte, error) {
		result, err := b.facade.GetPolicyNews(ctx, in.LookbackDays)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
}

func (b *Builtins) fetchSectorRotation(ctx context.Context, args string) (string, error) {
	var in struct {
		TradeDate string `json:"trade_date"`
	}
	if err := parseArgs(args, &in); err != nil {
		return "", err
	}

	bucket := in.TradeDate
	if bucket == "" {
		bucket = cache.DateBucket(time.Now())
	}
	key := cache.Key("sector", "", bucket)
	return b.cached(ctx, key, func(ctx context.Context) ([]byte, error) {
		flows, err := b.facade.GetSectorFlows(ctx, in.TradeDate)
		if err != nil {
			return nil, err
		}
		return json.Marshal(flows)
	})
}

func (b *Builtins) fetchIndexConstituents(ctx context.Context, args string) (string, error) {
	var in struct {
		Symbol string `json:"symbol"`
		Top    int    `json:"top"`
	}
	if err := parseArgs(args, &in); err != nil {
		return "", err
	}
	if in.Symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}

	key := cache.Key("constituents", in.Symbol, cache.DateBucket(time.Now()))
	payload, err := b.cached(ctx, key, func(ctx context.Context) ([]byte, error) {
		cons, err := b.facade.GetIndexConstituents(ctx, in.Symbol)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cons)
	})
	if err != nil {
		return "", err
	}

	var cons []marketdata.Constituent
	if err := json.Unmarshal([]byte(payload), &cons); err != nil {
		return "", fmt.Errorf("failed to decode cached constituents: %w", err)
	}
	if in.Top > 0 && len(cons) > in.Top {
		cons = cons[:in.Top]
	}
	return toJSON(map[string]interface{}{
		"symbol":       in.Symbol,
		"count":        len(cons),
		"constituents": cons,
	})
}

func (b *Builtins) fetchSectorNews(ctx context.Context, args string) (string, error) {
	var in struct {
		Sector string `json:"sector"`
		Limit  int    `json:"limit"`
	}
	if err := parseArgs(args, &in); err != nil {
		return "", err
	}
	if in.Sector == "" {
		return "", fmt.Errorf("sector is required")
	}
	if in.Limit <= 0 {
		in.Limit = 10
	}

	items, err := b.facade.GetLatestNews(ctx, 100)
	if err != nil {
		return "", err
	}

	matched := make([]marketdata.NewsItem, 0, in.Limit)
	for _, item := range items {
		if strings.Contains(item.Title, in.Sector) || strings.Contains(item.Content, in.Sector) {
			matched = append(matched, item)
			if len(matched) >= in.Limit {
				break
			}
		}
	}
	return toJSON(map[string]interface{}{
		"sector": in.Sector,
		"count":  len(matched),
		"items":  matched,
	})
}

func (b *Builtins) fetchStockSectorInfo(ctx context.Context, args string) (string, error) {
	var in struct {
		Symbol string `json:"symbol"`
	}
	if err := parseArgs(args, &in); err != nil {
		return "", err
	}
	if in.Symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}

	key := cache.Key("info", in.Symbol, cache.DateBucket(time.Now()))
	return b.cached(ctx, key, func(ctx context.Context) ([]byte, error) {
		info := b.facade.ResolveIndex(in.Symbol)

		out := map[string]interface{}{
			"code":   info.Code,
			"name":   info.Name,
			"market": info.Market,
		}

		if valuation, err := b.facade.GetIndexValuation(ctx, in.Symbol); err == nil {
			out["valuation"] = valuation
		} else {
			out["valuation_error"] = err.Error()
		}

		if cons, err := b.facade.GetIndexConstituents(ctx, in.Symbol); err == nil {
			top := cons
			if len(top) > 5 {
				top = top[:5]
			}
			out["constituent_count"] = len(cons)
			out["top_constituents"] = top
		}

		return json.Marshal(out)
	})
}

func (b *Builtins) fetchMultiSourceNews(ctx context.Context, args string) (string, error) {
	var in struct {
		Keywords     []string `json:"keywords"`
		LookbackDays int      `json:"lookback_days"`
		Limit        int      `json:"limit"`
	}
	if err := parseArgs(args, &in); err != nil {
		return "", err
	}
	if in.LookbackDays <= 0 {
		in.LookbackDays = 3
	}

	result, err := b.facade.GetInternationalNews(ctx, in.Keywords, in.LookbackDays)
	if err != nil {
		return "", err
	}
	if in.Limit > 0 && len(result.Items) > in.Limit {
		result.Items = result.Items[:in.Limit]
	}
	return toJSON(result)
}

func (b *Builtins) fetchTechnicalIndicators(ctx context.Context, args string) (string, error) {
	var in struct {
		Symbol string `json:"symbol"`
	}
	if err := parseArgs(args, &in); err != nil {
		return "", err
	}
	if in.Symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}

	key := cache.Key("technical", in.Symbol, cache.DateBucket(time.Now()))
	return b.cached(ctx, key, func(ctx context.Context) ([]byte, error) {
		set, err := b.facade.GetTechnicalIndicators(ctx, in.Symbol)
		if err != nil {
			return nil, err
		}
		return json.Marshal(set)
	})
}
