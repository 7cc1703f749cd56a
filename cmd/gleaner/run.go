package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/gleaner/internal/app"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/services/ingest"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingest pass and exit",
	Long: `Runs a single ingest pass against one source and prints the tagged result.
A --freshness or --relevance of 0, or --deep, disables gating for the run.`,
	RunE: runOnce,
}

var (
	runSource    string
	runBatchSize int
	runMaxPages  int
	runFreshness float64
	runRelevance float64
	runDeep      bool
)

func init() {
	runCmd.Flags().StringVar(&runSource, "source", "", "Source to ingest (jobboard, feed); defaults to ingest.source")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "Records per gate evaluation (overrides config)")
	runCmd.Flags().IntVar(&runMaxPages, "max-pages", 0, "Page limit for this run (overrides config)")
	runCmd.Flags().Float64Var(&runFreshness, "freshness", -1, "Freshness threshold in [0,1] (overrides config)")
	runCmd.Flags().Float64Var(&runRelevance, "relevance", -1, "Relevance threshold in [0,1] (overrides config)")
	runCmd.Flags().BoolVar(&runDeep, "deep", false, "Deep ingest: gating off, deep batch and page limits")
}

func runOnce(cmd *cobra.Command, args []string) error {
	req, err := runRequest(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	result, err := application.Runner.Run(ctx, req)
	if result != nil {
		printResult(cmd, result)
	}
	return err
}

// runRequest maps flags onto a run request; unset flags keep the config values
func runRequest(cmd *cobra.Command) (ingest.RunRequest, error) {
	req := ingest.RunRequest{
		Source:    runSource,
		BatchSize: runBatchSize,
		MaxPages:  runMaxPages,
		Deep:      runDeep,
	}
	if req.Source == "" {
		req.Source = config.Ingest.Source
	}

	flags := cmd.Flags()
	if flags.Changed("freshness") || flags.Changed("relevance") {
		th := models.Thresholds{
			Freshness: config.Ingest.FreshnessThreshold,
			Relevance: config.Ingest.RelevanceThreshold,
		}
		if flags.Changed("freshness") {
			th.Freshness = runFreshness
		}
		if flags.Changed("relevance") {
			th.Relevance = runRelevance
		}
		if th.Freshness < 0 || th.Freshness > 1 || th.Relevance < 0 || th.Relevance > 1 {
			return req, fmt.Errorf("thresholds must be within [0,1]")
		}
		req.Thresholds = &th
	}
	return req, nil
}

func printResult(cmd *cobra.Command, r *models.RunResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "run %s source=%s reason=%s count=%d pages=%d batches=%d skipped=%d duration=%s\n",
		r.RunID, r.Source, r.Reason, r.Count, r.Pages, r.Batches, r.Skipped, r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", r.Error)
	}
}
