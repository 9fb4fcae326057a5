package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pdiddy/reddit-collector/pkg/types"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Validate and print the sources configuration",
	RunE:  runSources,
}

func init() {
	sourcesCmd.Flags().String("sources", "sources.yaml", "sources YAML file")

	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	sourcesPath, _ := cmd.Flags().GetString("sources")

	sf, err := types.LoadSources(sourcesPath)
	if err != nil {
		return err
	}

	fmt.Printf("Daily limit: %d posts\n", sf.Collector.DailyLimit)
	fmt.Printf("Max posts per request: %d\n", sf.Collector.MaxPostsPerRequest)
	fmt.Printf("Request interval: %s\n\n", sf.Collector.RequestInterval)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBREDDIT\tPRIORITY\tQUOTA\tMIN SCORE\tMIN COMMENTS\tACTIVE")
	active := 0
	for _, s := range sf.Subreddits {
		if s.IsActive {
			active++
		}
		fmt.Fprintf(w, "r/%s\t%d\t%d\t%d\t%d\t%v\n",
			s.Name, s.Priority, s.DailyQuota, s.MinScore, s.MinComments, s.IsActive)
	}
	w.Flush()

	fmt.Printf("\n%d sources, %d active\n", len(sf.Subreddits), active)
	return nil
}
