package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/reddit-collector/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize stored posts, run stats, and recent errors",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("db", "data/collector.db", "SQLite database path")
	statusCmd.Flags().String("date", "", "collection date to summarize (default today, UTC)")
	statusCmd.Flags().Int("errors", 10, "number of recent errors to show")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	dbPath, _ := cmd.Flags().GetString("db")
	date, _ := cmd.Flags().GetString("date")
	errLimit, _ := cmd.Flags().GetInt("errors")

	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	store, err := storage.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	total, err := store.PostCount(ctx, "")
	if err != nil {
		return err
	}
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Total posts: %d\n\n", total)

	stats, err := store.StatsByDate(ctx, date)
	if err != nil {
		return err
	}
	fmt.Printf("Runs on %s: %d\n", date, len(stats))
	if len(stats) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SUBREDDIT\tFETCHED\tFILTERED\tSAVED\tSTATUS\tBATCH")
		for _, st := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
				st.Subreddit, st.TotalFetched, st.TotalFiltered, st.TotalSaved, st.Status, st.BatchID)
		}
		w.Flush()
	}

	errs, err := store.RecentErrors(ctx, errLimit)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		fmt.Printf("\nRecent errors (%d):\n", len(errs))
		for _, e := range errs {
			fmt.Printf("  [%s] %s: %s", e.Severity, e.ErrorType, e.ErrorMessage)
			if e.Subreddit != "" {
				fmt.Printf(" (r/%s)", e.Subreddit)
			}
			fmt.Println()
		}
	}
	return nil
}
