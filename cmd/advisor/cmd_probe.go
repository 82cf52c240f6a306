package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketmind-ai/marketmind/internal/probe"
	"github.com/marketmind-ai/marketmind/internal/session"
)

var (
	probeSymbol  string
	probeTimeout time.Duration
	probeFormat  string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check data source availability",
	Long: `Probe checks every data source before an analysis would run: cache tiers
first, then the upstream providers. Sources answered from cache report
"cache" as their source of truth.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeSymbol, "symbol", "000300.SH", "symbol used for the technical check")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "overall probe deadline")
	probeCmd.Flags().StringVar(&probeFormat, "format", "table", "output format (table|json)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	if probeFormat != "table" && probeFormat != "json" {
		return fmt.Errorf("invalid format %q, must be one of: table, json", probeFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// probing needs only the data path, not the model or the decision log
	registry := newHealthRegistry(cfg)
	facade := buildFacade(cfg, registry)
	memory, tiered, redisClient := buildCache(cfg)
	defer memory.Stop()
	if redisClient != nil {
		defer redisClient.Close()
	}

	prober := probe.New(facade, tiered, probe.Config{
		Timeout:     cfg.Probe.GetTimeout(),
		MacroMaxAge: cfg.Probe.GetMacroMaxAge(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	statuses := prober.Run(ctx, probeSymbol)

	if probeFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}
	return printProbeTable(statuses)
}

func printProbeTable(statuses map[string]session.SourceStatus) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATUS\tTRUTH\tLATENCY\tERROR")

	available := 0
	for _, source := range probe.Sources() {
		status := statuses[source]
		icon := "❌ DOWN"
		if status.Available {
			icon = "✅ UP"
			available++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n",
			source, icon, status.SourceOfTruth,
			status.Latency/time.Millisecond, status.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d/%d sources available\n", available, len(probe.Sources()))
	return nil
}
