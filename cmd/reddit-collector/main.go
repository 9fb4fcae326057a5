// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the reddit-collector CLI.
// Each pipeline surface is a subcommand: collect runs one batch,
// serve exposes the HTTP trigger, status and sources inspect state.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/reddit-collector/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// credentials holds the Reddit API credential set resolved at startup.
var credentials secrets.Credentials

// rootCmd is the base command for the reddit-collector CLI.
var rootCmd = &cobra.Command{
	Use:   "reddit-collector",
	Short: "Quota-aware Reddit collection pipeline",
	Long: `reddit-collector fetches posts from configured subreddits, filters them
for quality and topical relevance, and persists the survivors to SQLite.

Each run is a sequential batch over the configured sources, paced by a
rate governor and bounded by a shared daily quota. Use collect for a
one-shot run, serve to expose the HTTP trigger, and status or sources
to inspect state.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		creds, err := secrets.Resolve(".secrets/", envFile)
		if err != nil {
			return err
		}
		credentials = creds
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./reddit-collector.yaml or ~/.config/reddit-collector/config.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "env file with credential overrides")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("reddit-collector")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "reddit-collector"))
		}
	}

	viper.SetEnvPrefix("REDDIT_COLLECTOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the --log-level flag.
func newLogger(cmd *cobra.Command) *slog.Logger {
	levelName, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
