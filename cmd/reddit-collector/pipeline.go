package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pdiddy/reddit-collector/internal/auth"
	"github.com/pdiddy/reddit-collector/internal/batch"
	"github.com/pdiddy/reddit-collector/internal/filter"
	"github.com/pdiddy/reddit-collector/internal/process"
	"github.com/pdiddy/reddit-collector/internal/quota"
	"github.com/pdiddy/reddit-collector/internal/ratelimit"
	"github.com/pdiddy/reddit-collector/internal/reddit"
	"github.com/pdiddy/reddit-collector/internal/relevance"
	"github.com/pdiddy/reddit-collector/internal/scheduler"
	"github.com/pdiddy/reddit-collector/internal/storage"
	"github.com/pdiddy/reddit-collector/pkg/types"
)

// pipeline bundles the wired collection stages for the run-facing
// subcommands.
type pipeline struct {
	client    *reddit.Client
	store     *storage.Store
	scheduler *scheduler.Scheduler
	sources   []types.SubredditConfig
}

func (p *pipeline) Close() error {
	return p.store.Close()
}

// buildPipeline wires the full collection stack from the sources file,
// the resolved credentials, and the subcommand flags.
func buildPipeline(cmd *cobra.Command, logger *slog.Logger) (*pipeline, error) {
	if err := credentials.Validate(); err != nil {
		return nil, err
	}

	sourcesPath, _ := cmd.Flags().GetString("sources")
	dbPath, _ := cmd.Flags().GetString("db")
	keywordsPath, _ := cmd.Flags().GetString("keywords")
	noRelevance, _ := cmd.Flags().GetBool("no-relevance")

	sf, err := types.LoadSources(sourcesPath)
	if err != nil {
		return nil, err
	}
	cfg := sf.Collector
	if cfg.UserAgent == "" {
		cfg.UserAgent = credentials.UserAgent
	}

	var scorerOpts relevance.Options
	if keywordsPath != "" {
		table, err := relevance.LoadTable(keywordsPath)
		if err != nil {
			return nil, err
		}
		scorerOpts.Table = &table
	}

	authority := auth.New(credentials.ClientID, credentials.ClientSecret, cfg.UserAgent, auth.Options{
		Logger: logger,
	})
	governor := ratelimit.NewGovernor(ratelimit.Options{
		MinInterval: cfg.RequestInterval,
	}, logger)
	client := reddit.NewClient(authority, governor, reddit.Options{
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.MaxRetries,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}, logger)

	scorer := relevance.NewScorer(scorerOpts, logger)
	processor := process.NewProcessor(filter.Config{
		MinUpvoteRatio: cfg.MinUpvoteRatio,
	}, scorer, process.Options{DisableScoring: noRelevance}, logger)

	store, err := storage.Open(dbPath, logger)
	if err != nil {
		return nil, err
	}

	qm := quota.NewManager(cfg.DailyLimit, logger)
	bm := batch.NewManager(logger)
	sched := scheduler.New(client, processor, store, qm, bm, cfg, logger)

	return &pipeline{
		client:    client,
		store:     store,
		scheduler: sched,
		sources:   sf.Subreddits,
	}, nil
}

// probes returns the health checks exposed by serve and healthz.
func (p *pipeline) probes() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"auth":    p.client.ValidateConnection,
		"storage": p.store.TestConnection,
	}
}
