package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind-ai/marketmind/internal/cache"
	"github.com/marketmind-ai/marketmind/internal/marketdata"
)

// toolBackend fakes the AKTools sidecar for the built-in tool set
type toolBackend struct {
	mu   sync.Mutex
	hits map[string]int
}

func (b *toolBackend) hitCount(endpoint string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[endpoint]
}

func (b *toolBackend) handler() http.Handler {
	today := time.Now().Format("2006-01-02")
	now := time.Now().Format("2006-01-02 15:04:05")

	bars := make([]map[string]interface{}, 0, 70)
	day := time.Now().AddDate(0, 0, -100)
	for len(bars) < 70 {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			base := 3000.0 + float64(len(bars))
			bars = append(bars, map[string]interface{}{
				"日期": day.Format("2006-01-02"), "开盘": base, "最高": base + 12,
				"最低": base - 12, "收盘": base + 5, "成交量": 1e8, "成交额": 1e11, "涨跌幅": 0.2,
			})
		}
		day = day.AddDate(0, 0, 1)
	}

	rows := map[string][]map[string]interface{}{
		"macro_china_gdp_yearly":  {{"今值": 5.4}},
		"macro_china_cpi_monthly": {{"今值": 0.2}},
		"macro_china_pmi_yearly":  {{"今值": 49.5}},
		"macro_china_m2_yearly":   {{"今值": 7.9}},
		"macro_china_lpr":         {{"LPR1Y": 3.0}},
		"news_cctv": {
			{"date": today, "title": "央行发布公告", "content": "政策要闻"},
		},
		"stock_info_global_cls": {
			{"标题": "半导体板块异动", "内容": "资金流入明显", "发布时间": now},
			{"标题": "白酒走弱", "内容": "消费承压", "发布时间": now},
			{"标题": "半导体设备招标", "内容": "订单增长", "发布时间": now},
		},
		"stock_info_global_em": {
			{"发布时间": now, "标题": "美联储官员讲话", "摘要": "利率路径"},
			{"发布时间": now, "标题": "欧洲市场收涨", "摘要": "风险偏好回升"},
		},
		"stock_sector_fund_flow_rank": {
			{"名称": "半导体", "今日主力净流入-净额": 5.5e9, "今日涨跌幅": 2.1},
			{"名称": "银行", "今日主力净流入-净额": -2.0e9, "今日涨跌幅": -0.5},
		},
		"index_zh_a_hist": bars,
		"index_stock_cons_weight_csindex": {
			{"成分券代码": "600519", "成分券名称": "贵州茅台", "权重": 5.2},
			{"成分券代码": "601318", "成分券名称": "中国平安", "权重": 3.8},
			{"成分券代码": "600036", "成分券名称": "招商银行", "权重": 3.1},
		},
		"stock_zh_index_value_csindex": {
			{"日期": today, "市盈率1": 12.8, "市净率": 1.3, "股息率1": "2.9%"},
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/api/public/")
		b.mu.Lock()
		b.hits[endpoint]++
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows[endpoint])
	})
}

func newToolFixture(t *testing.T, withCache bool) (*Registry, *toolBackend) {
	t.Helper()

	backend := &toolBackend{hits: make(map[string]int)}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	ak := marketdata.NewAKToolsClient(marketdata.AKToolsConfig{Endpoint: srv.URL, Timeout: 2 * time.Second})
	facade := marketdata.NewFacade(nil, ak, nil, marketdata.FacadeConfig{CallTimeout: 2 * time.Second})

	var tiered *cache.Tiered
	if withCache {
		tiered = cache.New(cache.Options{Memory: cache.NewMemory(128, time.Minute)})
	}

	reg := NewRegistry()
	require.NoError(t, NewBuiltins(facade, tiered).RegisterAll(reg))
	return reg, backend
}

func TestBuiltinsRegisterAll(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	want := []string{
		FetchIndexConstituents, FetchMacroData, FetchMultiSourceNews,
		FetchPolicyNews, FetchSectorNews, FetchSectorRotation,
		FetchStockSectorInfo, FetchTechnicalIndicators,
	}
	assert.Equal(t, want, reg.Names())
}

func TestFetchMacroData(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	out, err := reg.Call(context.Background(), FetchMacroData, "{}")
	require.NoError(t, err)

	var macro marketdata.MacroIndicators
	require.NoError(t, json.Unmarshal([]byte(out), &macro))
	assert.Equal(t, 5.4, macro.GDPGrowth)
	assert.Equal(t, 49.5, macro.PMI)
}

func TestFetchMacroDataServedFromCache(t *testing.T) {
	reg, backend := newToolFixture(t, true)

	_, err := reg.Call(context.Background(), FetchMacroData, "")
	require.NoError(t, err)
	require.Equal(t, 1, backend.hitCount("macro_china_gdp_yearly"))

	_, err = reg.Call(context.Background(), FetchMacroData, "")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.hitCount("macro_china_gdp_yearly"), "second call must be a cache hit")
}

func TestFetchPolicyNews(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	out, err := reg.Call(context.Background(), FetchPolicyNews, `{"lookback_days":7}`)
	require.NoError(t, err)

	var result marketdata.NewsResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.Items)
	assert.False(t, result.Degraded)
	assert.Equal(t, "policy", result.Items[0].Category)
}

func TestFetchSectorRotation(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	out, err := reg.Call(context.Background(), FetchSectorRotation, "{}")
	require.NoError(t, err)

	var flows marketdata.SectorFlows
	require.NoError(t, json.Unmarshal([]byte(out), &flows))
	require.Len(t, flows.All, 2)
	assert.Equal(t, "半导体", flows.All[0].Sector)
}

func TestFetchSectorNewsFilters(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	out, err := reg.Call(context.Background(), FetchSectorNews, `{"sector":"半导体"}`)
	require.NoError(t, err)

	var result struct {
		Sector string                `json:"sector"`
		Count  int                   `json:"count"`
		Items  []marketdata.NewsItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Count, "only items mentioning the sector")
	for _, item := range result.Items {
		assert.Contains(t, item.Title+item.Content, "半导体")
	}
}

func TestFetchSectorNewsRequiresSector(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	_, err := reg.Call(context.Background(), FetchSectorNews, "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sector is required")
}

func TestFetchIndexConstituentsTop(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	out, err := reg.Call(context.Background(), FetchIndexConstituents, `{"symbol":"000300.SH","top":2}`)
	require.NoError(t, err)

	var result struct {
		Symbol       string                   `json:"symbol"`
		Count        int                      `json:"count"`
		Constituents []marketdata.Constituent `json:"constituents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, "600519", result.Constituents[0].Symbol, "heaviest first")
}

func TestFetchStockSectorInfo(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	out, err := reg.Call(context.Background(), FetchStockSectorInfo, `{"symbol":"000300.SH"}`)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "沪深300", result["name"])
	assert.Equal(t, "a_share", result["market"])
	assert.NotNil(t, result["valuation"])
	assert.EqualValues(t, 3, result["constituent_count"])
}

func TestFetchMultiSourceNewsLimit(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	out, err := reg.Call(context.Background(), FetchMultiSourceNews, `{"limit":1}`)
	require.NoError(t, err)

	var result marketdata.NewsResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Len(t, result.Items, 1)
}

func TestFetchTechnicalIndicators(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	out, err := reg.Call(context.Background(), FetchTechnicalIndicators, `{"symbol":"000001.SH"}`)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "000001.SH", result["code"])
	assert.NotEmpty(t, result["trend_signal"])
}

func TestFetchTechnicalIndicatorsRequiresSymbol(t *testing.T) {
	reg, _ := newToolFixture(t, false)

	_, err := reg.Call(context.Background(), FetchTechnicalIndicators, "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol is required")
}

func TestParseArgsRejectsMalformedJSON(t *testing.T) {
	var in struct {
		Symbol string `json:"symbol"`
	}
	err := parseArgs(`{"symbol":`, &in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool arguments")
}
