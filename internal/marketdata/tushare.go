package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/marketmind-ai/marketmind/internal/metrics"
)

const (
	defaultTuShareEndpoint = "http://api.tushare.pro"
	defaultTuShareTimeout  = 10 * time.Second
	// Free-tier quota is per-minute; stay under it
	defaultTuShareRatePerMin = 120
)

// TuShareConfig configures the primary provider client
type TuShareConfig struct {
	Endpoint        string
	Token           string
	Timeout         time.Duration
	RateLimitPerMin int
}

// TuShareClient speaks the TuShare POST-JSON protocol: every call is
// {api_name, token, params, fields} and every response is column oriented.
type TuShareClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
	log        zerolog.Logger
}

// NewTuShareClient creates the primary provider client
func NewTuShareClient(cfg TuShareConfig) *TuShareClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultTuShareEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTuShareTimeout
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = defaultTuShareRatePerMin
	}
	return &TuShareClient{
		endpoint:   cfg.Endpoint,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMin)/60.0), 5),
		retry:      DefaultRetryConfig(),
		log:        log.With().Str("component", "tushare").Logger(),
	}
}

// Name returns the source name used by the health registry
func (c *TuShareClient) Name() string {
	return SourceTuShare
}

type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params,omitempty"`
	Fields  string            `json:"fields,omitempty"`
}

type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// call performs one TuShare API call and pivots the column-oriented
// response into row maps keyed by field name.
func (c *TuShareClient) call(ctx context.Context, apiName string, params map[string]string, fields string) ([]map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqBody, err := json.Marshal(tushareRequest{
		APIName: apiName,
		Token:   c.token,
		Params:  params,
		Fields:  fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var rows []map[string]interface{}

	err = WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var decoded tushareResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if decoded.Code != 0 {
			return fmt.Errorf("tushare error %d: %s", decoded.Code, decoded.Msg)
		}

		rows = pivotRows(decoded.Data.Fields, decoded.Data.Items)
		return nil
	})

	status := "ok"
	if err != nil {
		status = metrics.NormalizeProviderError(err)
	}
	metrics.ProviderRequests.WithLabelValues(SourceTuShare, apiName, status).Inc()
	metrics.ProviderLatency.WithLabelValues(SourceTuShare, apiName).Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("api_name", apiName).
		Int("rows", len(rows)).
		Dur("latency", time.Since(start)).
		Msg("TuShare call complete")
	return rows, nil
}

func pivotRows(fields []string, items [][]interface{}) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		row := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			if i < len(item) {
				row[f] = item[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func rowFloat(row map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		switch v := row[k].(type) {
		case float64:
			return v
		case json.Number:
			f, _ := v.Float64()
			return f
		case string:
			var f float64
			if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
				return f
			}
		}
	}
	return 0
}

func rowString(row map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := row[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// MacroData aggregates GDP, CPI, PMI, M2 and LPR from their series endpoints.
// Individual series failures are tolerated as long as at least one lands.
func (c *TuShareClient) MacroData(ctx context.Context, endDate string) (MacroIndicators, error) {
	out := MacroIndicators{
		PeriodEnd:    endDate,
		RetrievedAt:  time.Now(),
		SourceOfData: SourceTuShare,
	}

	populated := 0
	var lastErr error

	if rows, err := c.call(ctx, "cn_gdp", nil, "quarter,gdp_yoy"); err == nil && len(rows) > 0 {
		out.GDPGrowth = rowFloat(rows[0], "gdp_yoy")
		if q := rowString(rows[0], "quarter"); q != "" && out.PeriodEnd == "" {
			out.PeriodEnd = q
		}
		populated++
	} else if err != nil {
		lastErr = err
	}

	if rows, err := c.call(ctx, "cn_cpi", nil, "month,nt_yoy"); err == nil && len(rows) > 0 {
		out.CPI = rowFloat(rows[0], "nt_yoy")
		populated++
	} else if err != nil {
		lastErr = err
	}

	if rows, err := c.call(ctx, "cn_pmi", nil, "month,pmi010000"); err == nil && len(rows) > 0 {
		out.PMI = rowFloat(rows[0], "pmi010000")
		populated++
	} else if err != nil {
		lastErr = err
	}

	if rows, err := c.call(ctx, "cn_m", nil, "month,m2_yoy"); err == nil && len(rows) > 0 {
		out.M2Growth = rowFloat(rows[0], "m2_yoy")
		populated++
	} else if err != nil {
		lastErr = err
	}

	if rows, err := c.call(ctx, "shibor_lpr", nil, "date,1y"); err == nil && len(rows) > 0 {
		out.LPR1Y = rowFloat(rows[0], "1y")
		populated++
	} else if err != nil {
		lastErr = err
	}

	if populated == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("empty macro series")
		}
		return MacroIndicators{}, fmt.Errorf("macro data: %w", lastErr)
	}
	return out, nil
}

// IndexDaily returns daily bars for an index code, oldest first
func (c *TuShareClient) IndexDaily(ctx context.Context, code, start, end string) ([]DailyBar, error) {
	params := map[string]string{"ts_code": code}
	if start != "" {
		params["start_date"] = start
	}
	if end != "" {
		params["end_date"] = end
	}

	rows, err := c.call(ctx, "index_daily", params, "trade_date,open,high,low,close,pre_close,vol,amount,pct_chg")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data for %s", code)
	}

	bars := make([]DailyBar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, DailyBar{
			TradeDate:     rowString(row, "trade_date"),
			Open:          rowFloat(row, "open"),
			High:          rowFloat(row, "high"),
			Low:           rowFloat(row, "low"),
			Close:         rowFloat(row, "close"),
			PreClose:      rowFloat(row, "pre_close"),
			Volume:        rowFloat(row, "vol"),
			Amount:        rowFloat(row, "amount"),
			ChangePercent: rowFloat(row, "pct_chg"),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TradeDate < bars[j].TradeDate })
	return bars, nil
}

// IndexConstituents returns the most recent weighting snapshot for an index
func (c *TuShareClient) IndexConstituents(ctx context.Context, code string) ([]Constituent, error) {
	rows, err := c.call(ctx, "index_weight", map[string]string{"index_code": code}, "con_code,trade_date,weight")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data for %s", code)
	}

	// Keep only the latest trade date present in the window
	latest := ""
	for _, row := range rows {
		if d := rowString(row, "trade_date"); d > latest {
			latest = d
		}
	}

	out := make([]Constituent, 0, len(rows))
	for _, row := range rows {
		if rowString(row, "trade_date") != latest {
			continue
		}
		out = append(out, Constituent{
			Symbol: rowString(row, "con_code"),
			Weight: rowFloat(row, "weight"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, nil
}

// IndexValuation returns the latest PE/PB snapshot for an index
func (c *TuShareClient) IndexValuation(ctx context.Context, code string) (IndexValuation, error) {
	rows, err := c.call(ctx, "index_dailybasic", map[string]string{"ts_code": code}, "trade_date,pe,pb")
	if err != nil {
		return IndexValuation{}, err
	}
	if len(rows) == 0 {
		return IndexValuation{}, fmt.Errorf("no data for %s", code)
	}

	return IndexValuation{
		Code:        code,
		PE:          rowFloat(rows[0], "pe"),
		PB:          rowFloat(rows[0], "pb"),
		TradeDate:   rowString(rows[0], "trade_date"),
		RetrievedAt: time.Now(),
	}, nil
}

// SectorFlows returns per-sector money flow for a trade date
func (c *TuShareClient) SectorFlows(ctx context.Context, tradeDate string) ([]SectorFlow, error) {
	params := map[string]string{}
	if tradeDate != "" {
		params["trade_date"] = tradeDate
	}

	rows, err := c.call(ctx, "moneyflow_ind_dc", params, "name,net_amount,pct_change")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data for %s", tradeDate)
	}

	flows := make([]SectorFlow, 0, len(rows))
	for _, row := range rows {
		flows = append(flows, SectorFlow{
			Sector:        rowString(row, "name"),
			NetInflow:     rowFloat(row, "net_amount"),
			ChangePercent: rowFloat(row, "pct_change"),
		})
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].NetInflow > flows[j].NetInflow })
	for i := range flows {
		flows[i].Rank = i + 1
	}
	return flows, nil
}

// LatestNews returns recent flash news, newest first
func (c *TuShareClient) LatestNews(ctx context.Context, limit int) ([]NewsItem, error) {
	rows, err := c.call(ctx, "news", map[string]string{"src": "sina"}, "datetime,title,content")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty news feed")
	}

	items := make([]NewsItem, 0, len(rows))
	for _, row := range rows {
		if limit > 0 && len(items) >= limit {
			break
		}
		item := NewsItem{
			Title:   rowString(row, "title"),
			Content: rowString(row, "content"),
			Source:  "sina",
		}
		if ts := rowString(row, "datetime"); ts != "" {
			if t, err := time.Parse("2006-01-02 15:04:05", ts); err == nil {
				item.PublishedAt = t
			}
		}
		items = append(items, item)
	}
	return items, nil
}
