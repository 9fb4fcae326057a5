package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/reddit-collector/internal/batch"
	"github.com/pdiddy/reddit-collector/internal/scheduler"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one collection batch over the configured sources",
	Long: `Collect runs a single sequential batch: every active subreddit in the
sources file is fetched in priority order within its quota allocation,
filtered, scored for relevance, and saved. The structured run result is
printed as JSON on stdout.`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().String("sources", "sources.yaml", "sources YAML file")
	collectCmd.Flags().String("db", "data/collector.db", "SQLite database path")
	collectCmd.Flags().String("keywords", "", "keyword table YAML (default: built-in table)")
	collectCmd.Flags().Duration("task-timeout", 0, "per-source task timeout (default 300s)")
	collectCmd.Flags().Bool("halt-on-error", false, "stop the batch on the first source failure")
	collectCmd.Flags().Bool("no-relevance", false, "skip relevance scoring, keep every quality survivor")

	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	p, err := buildPipeline(cmd, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	taskTimeout, _ := cmd.Flags().GetDuration("task-timeout")
	haltOnError, _ := cmd.Flags().GetBool("halt-on-error")

	opts := scheduler.RunOptions{TaskTimeout: taskTimeout}
	if haltOnError {
		cont := false
		opts.ContinueOnError = &cont
	}

	// Ctrl-C stops the batch cooperatively; in-flight state is persisted.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := p.scheduler.Run(ctx, p.sources, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	logger.Info("collection finished",
		"batch_id", result.BatchID,
		"status", result.Status,
		"fetched", result.Fetched,
		"saved", result.Saved,
		"duration", time.Since(start).Round(time.Millisecond))

	if result.Status == batch.BatchFailed {
		return fmt.Errorf("collection batch %s failed", result.BatchID)
	}
	return nil
}
