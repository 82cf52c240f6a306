package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketmind-ai/marketmind/internal/session"
)

var (
	analyzeSymbol  string
	analyzeMarket  string
	analyzeSession string
	analyzeDate    string
	analyzeDepth   string
	analyzeTimeout time.Duration
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis and print the decision record",
	Long: `Analyze runs the full analyst graph for a single symbol and prints the
resulting decision record as JSON on stdout.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSymbol, "symbol", "", "symbol to analyze, e.g. 000300.SH (required)")
	analyzeCmd.Flags().StringVar(&analyzeMarket, "market", "", "market type: a_share, hk or us")
	analyzeCmd.Flags().StringVar(&analyzeSession, "session", "", "session kind: morning, closing or post")
	analyzeCmd.Flags().StringVar(&analyzeDate, "date", "", "trade date as YYYY-MM-DD (default today)")
	analyzeCmd.Flags().StringVar(&analyzeDepth, "depth", "", "research depth: quick, standard or deep")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 10*time.Minute, "overall run deadline")
	analyzeCmd.MarkFlagRequired("symbol")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.engine.Analyze(ctx, session.Request{
		Symbol:        analyzeSymbol,
		MarketType:    session.MarketType(analyzeMarket),
		SessionKind:   session.Kind(analyzeSession),
		TradeDate:     analyzeDate,
		ResearchDepth: session.ResearchDepth(analyzeDepth),
	})
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Run)
}
