package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/metrics"
)

const (
	defaultAKToolsEndpoint = "http://127.0.0.1:8080"
	defaultAKToolsTimeout  = 15 * time.Second
)

// AKToolsConfig configures the secondary provider client
type AKToolsConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// AKToolsClient speaks the AKTools sidecar protocol: GET
// /api/public/<akshare-function> with query params, JSON array responses
// whose keys are the AKShare DataFrame's (mostly Chinese) column names.
type AKToolsClient struct {
	endpoint   string
	httpClient *http.Client
	retry      RetryConfig
	log        zerolog.Logger
}

// NewAKToolsClient creates the secondary provider client
func NewAKToolsClient(cfg AKToolsConfig) *AKToolsClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultAKToolsEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAKToolsTimeout
	}
	return &AKToolsClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      DefaultRetryConfig(),
		log:        log.With().Str("component", "aktools").Logger(),
	}
}

// Name returns the source name used by the health registry
func (c *AKToolsClient) Name() string {
	return SourceAKTools
}

// call performs one AKTools GET and decodes the JSON-array response
func (c *AKToolsClient) call(ctx context.Context, endpoint string, params map[string]string) ([]map[string]interface{}, error) {
	u := fmt.Sprintf("%s/api/public/%s", c.endpoint, endpoint)
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	start := time.Now()
	var rows []map[string]interface{}

	err := WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})

	status := "ok"
	if err != nil {
		status = metrics.NormalizeProviderError(err)
	}
	metrics.ProviderRequests.WithLabelValues(SourceAKTools, endpoint, status).Inc()
	metrics.ProviderLatency.WithLabelValues(SourceAKTools, endpoint).Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("endpoint", endpoint).
		Int("rows", len(rows)).
		Dur("latency", time.Since(start)).
		Msg("AKTools call complete")
	return rows, nil
}

// akFloat reads a numeric column that may arrive as number or string,
// trying each candidate column name in order.
func akFloat(row map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		switch v := row[k].(type) {
		case float64:
			return v
		case string:
			s := strings.TrimSuffix(strings.TrimSpace(v), "%")
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func akString(row map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := row[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// stripHTML flattens embedded HTML in news bodies to plain text
func stripHTML(content string) string {
	if !strings.ContainsAny(content, "<>") {
		return strings.TrimSpace(content)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(doc.Text()), " "))
}

func parseAKDate(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// MacroData aggregates the AKShare macro series
func (c *AKToolsClient) MacroData(ctx context.Context, endDate string) (MacroIndicators, error) {
	out := MacroIndicators{
		PeriodEnd:    endDate,
		RetrievedAt:  time.Now(),
		SourceOfData: SourceAKTools,
	}

	populated := 0
	var lastErr error

	// Each series endpoint returns the full history; the last row is current
	if rows, err := c.call(ctx, "macro_china_gdp_yearly", nil); err == nil && len(rows) > 0 {
		out.GDPGrowth = akFloat(rows[len(rows)-1], "今值", "value")
		populated++
	} else if err != nil {
		lastErr = err
	}

	if rows, err := c.call(ctx, "macro_china_cpi_monthly", nil); err == nil && len(rows) > 0 {
		out.CPI = akFloat(rows[len(rows)-1], "今值", "value")
		populated++
	} else if err != nil {
		lastErr = err
	}

	if rows, err := c.call(ctx, "macro_china_pmi_yearly", nil); err == nil && len(rows) > 0 {
		out.PMI = akFloat(rows[len(rows)-1], "今值", "value")
		populated++
	} else if err != nil {
		lastErr = err
	}

	if rows, err := c.call(ctx, "macro_china_m2_yearly", nil); err == nil && len(rows) > 0 {
		out.M2Growth = akFloat(rows[len(rows)-1], "今值", "value")
		populated++
	} else if err != nil {
		lastErr = err
	}

	if rows, err := c.call(ctx, "macro_china_lpr", nil); err == nil && len(rows) > 0 {
		out.LPR1Y = akFloat(rows[len(rows)-1], "LPR1Y", "lpr_1y")
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

// PolicyNews returns CCTV newscast items, which skew toward policy topics
func (c *AKToolsClient) PolicyNews(ctx context.Context, lookbackDays int) ([]NewsItem, error) {
	rows, err := c.call(ctx, "news_cctv", nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty policy news feed")
	}

	cutoff := time.Now().AddDate(0, 0, -lookbackDays)
	items := make([]NewsItem, 0, len(rows))
	for _, row := range rows {
		published := parseAKDate(akString(row, "date", "日期"))
		if lookbackDays > 0 && !published.IsZero() && published.Before(cutoff) {
			continue
		}
		items = append(items, NewsItem{
			Title:       akString(row, "title", "标题"),
			Content:     stripHTML(akString(row, "content", "内容")),
			Source:      "cctv",
			Category:    "policy",
			PublishedAt: published,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no policy news within %d days", lookbackDays)
	}
	return items, nil
}

// InternationalNews returns global market headlines
func (c *AKToolsClient) InternationalNews(ctx context.Context, lookbackDays int) ([]NewsItem, error) {
	rows, err := c.call(ctx, "stock_info_global_em", nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty international news feed")
	}

	cutoff := time.Now().AddDate(0, 0, -lookbackDays)
	items := make([]NewsItem, 0, len(rows))
	for _, row := range rows {
		published := parseAKDate(akString(row, "发布时间", "time"))
		if lookbackDays > 0 && !published.IsZero() && published.Before(cutoff) {
			continue
		}
		items = append(items, NewsItem{
			Title:       akString(row, "标题", "title"),
			Content:     stripHTML(akString(row, "摘要", "content")),
			Source:      "eastmoney_global",
			Category:    "international",
			URL:         akString(row, "链接", "url"),
			PublishedAt: published,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no international news within %d days", lookbackDays)
	}
	return items, nil
}

// LatestNews returns the general flash-news feed, newest first
func (c *AKToolsClient) LatestNews(ctx context.Context, limit int) ([]NewsItem, error) {
	rows, err := c.call(ctx, "stock_info_global_cls", nil)
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
		items = append(items, NewsItem{
			Title:       akString(row, "标题", "title"),
			Content:     stripHTML(akString(row, "内容", "content")),
			Source:      "cls",
			PublishedAt: parseAKDate(akString(row, "发布时间", "time")),
		})
	}
	return items, nil
}

// SectorFlows returns today's industry money-flow ranking
func (c *AKToolsClient) SectorFlows(ctx context.Context, tradeDate string) ([]SectorFlow, error) {
	rows, err := c.call(ctx, "stock_sector_fund_flow_rank", map[string]string{
		"indicator":   "今日",
		"sector_type": "行业资金流",
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data for %s", tradeDate)
	}

	flows := make([]SectorFlow, 0, len(rows))
	for _, row := range rows {
		flows = append(flows, SectorFlow{
			Sector:        akString(row, "名称", "name"),
			NetInflow:     akFloat(row, "今日主力净流入-净额", "net_amount"),
			ChangePercent: akFloat(row, "今日涨跌幅", "pct_change"),
		})
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].NetInflow > flows[j].NetInflow })
	for i := range flows {
		flows[i].Rank = i + 1
	}
	return flows, nil
}

// IndexDaily returns daily bars for an index, oldest first
func (c *AKToolsClient) IndexDaily(ctx context.Context, code, start, end string) ([]DailyBar, error) {
	params := map[string]string{
		"symbol": strings.TrimSuffix(strings.TrimSuffix(code, ".SH"), ".SZ"),
		"period": "daily",
	}
	if start != "" {
		params["start_date"] = start
	}
	if end != "" {
		params["end_date"] = end
	}

	rows, err := c.call(ctx, "index_zh_a_hist", params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data for %s", code)
	}

	bars := make([]DailyBar, 0, len(rows))
	for _, row := range rows {
		date := akString(row, "日期", "date")
		bars = append(bars, DailyBar{
			TradeDate:     strings.ReplaceAll(date, "-", ""),
			Open:          akFloat(row, "开盘", "open"),
			High:          akFloat(row, "最高", "high"),
			Low:           akFloat(row, "最低", "low"),
			Close:         akFloat(row, "收盘", "close"),
			Volume:        akFloat(row, "成交量", "volume"),
			Amount:        akFloat(row, "成交额", "amount"),
			ChangePercent: akFloat(row, "涨跌幅", "pct_change"),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TradeDate < bars[j].TradeDate })
	return bars, nil
}

// IndexConstituents returns index members with CSIndex weights
func (c *AKToolsClient) IndexConstituents(ctx context.Context, code string) ([]Constituent, error) {
	rows, err := c.call(ctx, "index_stock_cons_weight_csindex", map[string]string{
		"symbol": strings.TrimSuffix(strings.TrimSuffix(code, ".SH"), ".SZ"),
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data for %s", code)
	}

	out := make([]Constituent, 0, len(rows))
	for _, row := range rows {
		out = append(out, Constituent{
			Symbol: akString(row, "成分券代码", "symbol"),
			Name:   akString(row, "成分券名称", "name"),
			Weight: akFloat(row, "权重", "weight"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, nil
}

// IndexValuation returns the latest CSIndex valuation row
func (c *AKToolsClient) IndexValuation(ctx context.Context, code string) (IndexValuation, error) {
	rows, err := c.call(ctx, "stock_zh_index_value_csindex", map[string]string{
		"symbol": strings.TrimSuffix(strings.TrimSuffix(code, ".SH"), ".SZ"),
	})
	if err != nil {
		return IndexValuation{}, err
	}
	if len(rows) == 0 {
		return IndexValuation{}, fmt.Errorf("no data for %s", code)
	}

	last := rows[len(rows)-1]
	return IndexValuation{
		Code:        code,
		PE:          akFloat(last, "市盈率1", "pe"),
		PB:          akFloat(last, "市净率", "pb"),
		DividendPct: akFloat(last, "股息率1", "dividend_yield"),
		TradeDate:   strings.ReplaceAll(akString(last, "日期", "date"), "-", ""),
		RetrievedAt: time.Now(),
	}, nil
}
