package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// aktoolsFixture serves canned JSON-array responses per AKShare function name
func aktoolsFixture(t *testing.T, responses map[string][]map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)

		name := strings.TrimPrefix(r.URL.Path, "/api/public/")
		rows, ok := responses[name]
		if !ok {
			rows = []map[string]interface{}{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	}))
}

func testAKToolsClient(endpoint string) *AKToolsClient {
	return NewAKToolsClient(AKToolsConfig{Endpoint: endpoint, Timeout: 2 * time.Second})
}

func TestAKToolsMacroData(t *testing.T) {
	srv := aktoolsFixture(t, map[string][]map[string]interface{}{
		"macro_china_gdp_yearly": {
			{"今值": 5.2}, {"今值": 5.4},
		},
		"macro_china_cpi_monthly": {{"今值": 0.2}},
		"macro_china_pmi_yearly":  {{"今值": "49.5"}},
		"macro_china_m2_yearly":   {{"今值": 7.9}},
		"macro_china_lpr":         {{"LPR1Y": 3.0}},
	})
	defer srv.Close()

	c := testAKToolsClient(srv.URL)
	out, err := c.MacroData(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 5.4, out.GDPGrowth, "last row wins")
	assert.Equal(t, 0.2, out.CPI)
	assert.Equal(t, 49.5, out.PMI, "string numbers parse")
	assert.Equal(t, 7.9, out.M2Growth)
	assert.Equal(t, 3.0, out.LPR1Y)
	assert.Equal(t, SourceAKTools, out.SourceOfData)
}

func TestAKToolsPolicyNewsLookback(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	srv := aktoolsFixture(t, map[string][]map[string]interface{}{
		"news_cctv": {
			{"date": today, "title": "央行发布货币政策报告", "content": "<p>稳健的货币政策</p>"},
			{"date": "2020-01-01", "title": "旧闻", "content": "过期"},
		},
	})
	defer srv.Close()

	c := testAKToolsClient(srv.URL)
	items, err := c.PolicyNews(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, items, 1, "stale items fall outside the lookback window")

	assert.Equal(t, "央行发布货币政策报告", items[0].Title)
	assert.Equal(t, "稳健的货币政策", items[0].Content, "HTML stripped")
	assert.Equal(t, "policy", items[0].Category)
}

func TestAKToolsInternationalNews(t *testing.T) {
	now := time.Now().Format("2006-01-02 15:04:05")
	srv := aktoolsFixture(t, map[string][]map[string]interface{}{
		"stock_info_global_em": {
			{"发布时间": now, "标题": "美联储维持利率不变", "摘要": "鲍威尔讲话", "链接": "https://example.com/1"},
		},
	})
	defer srv.Close()

	c := testAKToolsClient(srv.URL)
	items, err := c.InternationalNews(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "美联储维持利率不变", items[0].Title)
	assert.Equal(t, "international", items[0].Category)
	assert.Equal(t, "https://example.com/1", items[0].URL)
}

func TestAKToolsSectorFlowsRanked(t *testing.T) {
	srv := aktoolsFixture(t, map[string][]map[string]interface{}{
		"stock_sector_fund_flow_rank": {
			{"名称": "银行", "今日主力净流入-净额": -2.0e9, "今日涨跌幅": -0.5},
			{"名称": "半导体", "今日主力净流入-净额": 5.5e9, "今日涨跌幅": 2.1},
		},
	})
	defer srv.Close()

	c := testAKToolsClient(srv.URL)
	flows, err := c.SectorFlows(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, flows, 2)

	assert.Equal(t, "半导体", flows[0].Sector)
	assert.Equal(t, 1, flows[0].Rank)
	assert.Equal(t, 2, flows[1].Rank)
}

func TestAKToolsIndexDaily(t *testing.T) {
	srv := aktoolsFixture(t, map[string][]map[string]interface{}{
		"index_zh_a_hist": {
			{"日期": "2025-06-03", "开盘": 3390.1, "最高": 3410.0, "最低": 3380.0, "收盘": 3402.3, "成交量": 2.5e8, "成交额": 3.1e11, "涨跌幅": 0.36},
			{"日期": "2025-06-02", "开盘": 3380.0, "最高": 3395.0, "最低": 3370.0, "收盘": 3390.0, "成交量": 2.4e8, "成交额": 3.0e11, "涨跌幅": 0.15},
		},
	})
	defer srv.Close()

	c := testAKToolsClient(srv.URL)
	bars, err := c.IndexDaily(context.Background(), "000001.SH", "", "")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "20250602", bars[0].TradeDate, "dashes stripped, oldest first")
	assert.Equal(t, 3402.3, bars[1].Close)
}

func TestAKToolsIndexValuation(t *testing.T) {
	srv := aktoolsFixture(t, map[string][]map[string]interface{}{
		"stock_zh_index_value_csindex": {
			{"日期": "2025-06-02", "市盈率1": 12.8, "市净率": 1.3, "股息率1": "2.9%"},
			{"日期": "2025-06-03", "市盈率1": 12.9, "市净率": 1.31, "股息率1": "2.8%"},
		},
	})
	defer srv.Close()

	c := testAKToolsClient(srv.URL)
	v, err := c.IndexValuation(context.Background(), "000300.SH")
	require.NoError(t, err)

	assert.Equal(t, 12.9, v.PE, "latest row wins")
	assert.Equal(t, 2.8, v.DividendPct, "percent suffix stripped")
	assert.Equal(t, "20250603", v.TradeDate)
}

func TestAKToolsEmptyResponse(t *testing.T) {
	srv := aktoolsFixture(t, nil)
	defer srv.Close()

	c := testAKToolsClient(srv.URL)
	_, err := c.SectorFlows(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, "empty", Classify(err))
}

func TestAKFloat(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]interface{}
		keys []string
		want float64
	}{
		{"number", map[string]interface{}{"v": 1.5}, []string{"v"}, 1.5},
		{"string", map[string]interface{}{"v": "1.5"}, []string{"v"}, 1.5},
		{"percent suffix", map[string]interface{}{"v": "2.8%"}, []string{"v"}, 2.8},
		{"whitespace", map[string]interface{}{"v": " 3.0 "}, []string{"v"}, 3.0},
		{"fallback key", map[string]interface{}{"b": 2.0}, []string{"a", "b"}, 2.0},
		{"missing", map[string]interface{}{}, []string{"v"}, 0},
		{"unparseable", map[string]interface{}{"v": "n/a"}, []string{"v"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, akFloat(tt.row, tt.keys...))
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "早盘快讯", "早盘快讯"},
		{"tags removed", "<p>第一段</p><p>第二段</p>", "第一段 第二段"},
		{"nested markup", "<div><b>加粗</b> 正文</div>", "加粗 正文"},
		{"trimmed", "  leading\n\ntrailing  ", "leading\n\ntrailing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripHTML(tt.in))
		})
	}
}

func TestParseAKDate(t *testing.T) {
	assert.Equal(t, 2025, parseAKDate("2025-06-03").Year())
	assert.Equal(t, 15, parseAKDate("2025-06-03 15:04:05").Hour())
	assert.Equal(t, time.June, parseAKDate("20250603").Month())
	assert.True(t, parseAKDate("not a date").IsZero())
}
