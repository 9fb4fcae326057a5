package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/reddit-collector/internal/quota"
	"github.com/pdiddy/reddit-collector/internal/storage"
	"github.com/pdiddy/reddit-collector/pkg/types"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the daily quota allocation plan and today's usage",
	Long: `Quota computes the priority-ordered allocation plan for the configured
sources and, when the database exists, replays today's collection stats
against it to show how much of each allocation has been consumed.`,
	RunE: runQuota,
}

func init() {
	quotaCmd.Flags().String("sources", "sources.yaml", "sources YAML file")
	quotaCmd.Flags().String("db", "data/collector.db", "SQLite database path")

	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	sourcesPath, _ := cmd.Flags().GetString("sources")
	dbPath, _ := cmd.Flags().GetString("db")

	sf, err := types.LoadSources(sourcesPath)
	if err != nil {
		return err
	}

	var active []types.SubredditConfig
	for _, s := range sf.Subreddits {
		if s.IsActive {
			active = append(active, s)
		}
	}

	qm := quota.NewManager(sf.Collector.DailyLimit, logger)
	qm.Allocate(active)

	// Replay today's saved counts so the plan reflects actual usage.
	if _, statErr := os.Stat(dbPath); statErr == nil {
		store, err := storage.Open(dbPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		today := time.Now().UTC().Format("2006-01-02")
		stats, err := store.StatsByDate(cmd.Context(), today)
		if err != nil {
			return err
		}
		for _, st := range stats {
			if st.TotalSaved > 0 {
				qm.Use(st.Subreddit, st.TotalSaved)
			}
		}
	}

	sum := qm.Summary()
	fmt.Printf("Date: %s\n", sum.Date)
	fmt.Printf("Daily limit: %d  used: %d  remaining: %d  health: %s\n\n",
		sum.DailyLimit, sum.Used, sum.Remaining, sum.Health)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBREDDIT\tALLOCATED\tUSED\tREMAINING\tUTILIZATION")
	for _, u := range qm.Usage() {
		fmt.Fprintf(w, "r/%s\t%d\t%d\t%d\t%.1f%%\n",
			u.Source, u.Allocated, u.Used, u.Remaining, u.Utilization*100)
	}
	w.Flush()
	return nil
}
