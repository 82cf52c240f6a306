// Command mcp-indicators exposes the technical indicator suite as an MCP
// stdio server, so advisors running elsewhere can mount compute_indicators
// and detect_trend next to their own tools. The server is stateless: each
// call carries its own OHLCV window.
package main

import (
	"context"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/config"
	"github.com/marketmind-ai/marketmind/internal/indicators"
)

const serverName = "marketmind-indicators"

// ComputeArgs carries one daily-bar window, oldest bar first. Highs and lows
// must align with closes; volumes are optional.
type ComputeArgs struct {
	Code      string    `json:"code,omitempty" jsonschema:"symbol echoed back in the snapshot"`
	TradeDate string    `json:"trade_date,omitempty" jsonschema:"date of the last bar, YYYYMMDD"`
	Closes    []float64 `json:"closes" jsonschema:"daily close prices, oldest first, at least 60"`
	Highs     []float64 `json:"highs" jsonschema:"daily high prices aligned with closes"`
	Lows      []float64 `json:"lows" jsonschema:"daily low prices aligned with closes"`
	Volumes   []float64 `json:"volumes,omitempty" jsonschema:"daily volumes aligned with closes"`
}

// TrendResult is the condensed reading detect_trend returns.
type TrendResult struct {
	Signal string  `json:"signal"`
	Close  float64 `json:"close"`
	MA20   float64 `json:"ma20"`
	RSI14  float64 `json:"rsi14"`
}

func computeIndicators(ctx context.Context, req *mcp.CallToolRequest, args ComputeArgs) (*mcp.CallToolResult, indicators.TechnicalIndicators, error) {
	snapshot, err := indicators.Compute(args.Closes, args.Highs, args.Lows, args.Volumes)
	if err != nil {
		return nil, indicators.TechnicalIndicators{}, err
	}
	snapshot.Code = args.Code
	snapshot.TradeDate = args.TradeDate
	return nil, snapshot, nil
}

func detectTrend(ctx context.Context, req *mcp.CallToolRequest, args ComputeArgs) (*mcp.CallToolResult, TrendResult, error) {
	snapshot, err := indicators.Compute(args.Closes, args.Highs, args.Lows, args.Volumes)
	if err != nil {
		return nil, TrendResult{}, err
	}
	return nil, TrendResult{
		Signal: snapshot.TrendSignal,
		Close:  snapshot.Close,
		MA20:   snapshot.MA20,
		RSI14:  snapshot.RSI14,
	}, nil
}

func main() {
	// stdout carries the MCP protocol; all logging goes to stderr
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: config.GetVersion()}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "compute_indicators",
		Description: "Compute the full technical indicator snapshot (MA, EMA, MACD, RSI, KDJ, key levels) from a daily OHLCV window",
	}, computeIndicators)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "detect_trend",
		Description: "Classify a daily close series as BULLISH, BEARISH or NEUTRAL",
	}, detectTrend)

	log.Info().Str("server", serverName).Msg("Serving indicator tools over stdio")
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatal().Err(err).Msg("MCP server terminated")
	}
}
