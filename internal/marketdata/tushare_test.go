package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tushareFixture serves canned column-oriented responses per api_name
func tushareFixture(t *testing.T, responses map[string]tushareResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req tushareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-token", req.Token)

		resp, ok := responses[req.APIName]
		if !ok {
			resp = tushareResponse{Code: 0}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func testTuShareClient(endpoint string) *TuShareClient {
	return NewTuShareClient(TuShareConfig{
		Endpoint:        endpoint,
		Token:           "test-token",
		Timeout:         2 * time.Second,
		RateLimitPerMin: 6000,
	})
}

func macroResponses() map[string]tushareResponse {
	mk := func(fields []string, items ...[]interface{}) tushareResponse {
		var r tushareResponse
		r.Data.Fields = fields
		r.Data.Items = items
		return r
	}
	return map[string]tushareResponse{
		"cn_gdp":     mk([]string{"quarter", "gdp_yoy"}, []interface{}{"2025Q1", 5.4}),
		"cn_cpi":     mk([]string{"month", "nt_yoy"}, []interface{}{"202505", 0.2}),
		"cn_pmi":     mk([]string{"month", "pmi010000"}, []interface{}{"202505", 49.5}),
		"cn_m":       mk([]string{"month", "m2_yoy"}, []interface{}{"202505", 7.9}),
		"shibor_lpr": mk([]string{"date", "1y"}, []interface{}{"20250520", 3.0}),
	}
}

func TestTuShareMacroData(t *testing.T) {
	srv := tushareFixture(t, macroResponses())
	defer srv.Close()

	c := testTuShareClient(srv.URL)
	out, err := c.MacroData(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 5.4, out.GDPGrowth)
	assert.Equal(t, 0.2, out.CPI)
	assert.Equal(t, 49.5, out.PMI)
	assert.Equal(t, 7.9, out.M2Growth)
	assert.Equal(t, 3.0, out.LPR1Y)
	assert.Equal(t, "2025Q1", out.PeriodEnd)
	assert.Equal(t, SourceTuShare, out.SourceOfData)
	assert.False(t, out.IsZero())
}

func TestTuShareMacroDataAllEmpty(t *testing.T) {
	srv := tushareFixture(t, map[string]tushareResponse{})
	defer srv.Close()

	c := testTuShareClient(srv.URL)
	_, err := c.MacroData(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "macro data")
}

func TestTuShareIndexDaily(t *testing.T) {
	var resp tushareResponse
	resp.Data.Fields = []string{"trade_date", "open", "high", "low", "close", "pre_close", "vol", "amount", "pct_chg"}
	resp.Data.Items = [][]interface{}{
		{"20250603", 3390.1, 3410.0, 3380.0, 3402.3, 3390.0, 2.5e8, 3.1e11, 0.36},
		{"20250602", 3380.0, 3395.0, 3370.0, 3390.0, 3385.0, 2.4e8, 3.0e11, 0.15},
	}

	srv := tushareFixture(t, map[string]tushareResponse{"index_daily": resp})
	defer srv.Close()

	c := testTuShareClient(srv.URL)
	bars, err := c.IndexDaily(context.Background(), "000001.SH", "20250601", "20250603")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	// Oldest first regardless of upstream order
	assert.Equal(t, "20250602", bars[0].TradeDate)
	assert.Equal(t, "20250603", bars[1].TradeDate)
	assert.Equal(t, 3402.3, bars[1].Close)
	assert.Equal(t, 0.36, bars[1].ChangePercent)
}

func TestTuShareIndexDailyEmpty(t *testing.T) {
	srv := tushareFixture(t, map[string]tushareResponse{})
	defer srv.Close()

	c := testTuShareClient(srv.URL)
	_, err := c.IndexDaily(context.Background(), "000001.SH", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

func TestTuShareAPIError(t *testing.T) {
	srv := tushareFixture(t, map[string]tushareResponse{
		"index_daily": {Code: 40203, Msg: "积分不足"},
	})
	defer srv.Close()

	c := testTuShareClient(srv.URL)
	_, err := c.IndexDaily(context.Background(), "000001.SH", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "40203")
	assert.Equal(t, "quota", Classify(err))
}

func TestTuShareConstituentsLatestDateOnly(t *testing.T) {
	var resp tushareResponse
	resp.Data.Fields = []string{"con_code", "trade_date", "weight"}
	resp.Data.Items = [][]interface{}{
		{"600519.SH", "20250530", 5.2},
		{"601318.SH", "20250530", 3.8},
		{"600519.SH", "20250430", 5.0},
	}

	srv := tushareFixture(t, map[string]tushareResponse{"index_weight": resp})
	defer srv.Close()

	c := testTuShareClient(srv.URL)
	cons, err := c.IndexConstituents(context.Background(), "000300.SH")
	require.NoError(t, err)
	require.Len(t, cons, 2, "stale month must be dropped")

	assert.Equal(t, "600519.SH", cons[0].Symbol)
	assert.Equal(t, 5.2, cons[0].Weight)
}

func TestTuShareSectorFlowsRanked(t *testing.T) {
	var resp tushareResponse
	resp.Data.Fields = []string{"name", "net_amount", "pct_change"}
	resp.Data.Items = [][]interface{}{
		{"银行", -2.0e9, -0.5},
		{"半导体", 5.5e9, 2.1},
		{"医药", 1.2e9, 0.8},
	}

	srv := tushareFixture(t, map[string]tushareResponse{"moneyflow_ind_dc": resp})
	defer srv.Close()

	c := testTuShareClient(srv.URL)
	flows, err := c.SectorFlows(context.Background(), "20250602")
	require.NoError(t, err)
	require.Len(t, flows, 3)

	assert.Equal(t, "半导体", flows[0].Sector)
	assert.Equal(t, 1, flows[0].Rank)
	assert.Equal(t, "银行", flows[2].Sector)
	assert.Equal(t, 3, flows[2].Rank)
}

func TestPivotRows(t *testing.T) {
	rows := pivotRows(
		[]string{"a", "b"},
		[][]interface{}{{1.0, "x"}, {2.0, "y"}},
	)
	require.Len(t, rows, 2)
	assert.Equal(t, 1.0, rows[0]["a"])
	assert.Equal(t, "y", rows[1]["b"])
}

func TestRowFloat(t *testing.T) {
	row := map[string]interface{}{
		"num":    3.14,
		"string": "2.5",
		"other":  true,
	}
	assert.Equal(t, 3.14, rowFloat(row, "num"))
	assert.Equal(t, 2.5, rowFloat(row, "string"))
	assert.Equal(t, 0.0, rowFloat(row, "other"))
	assert.Equal(t, 3.14, rowFloat(row, "missing", "num"), "falls through candidate keys")
}
