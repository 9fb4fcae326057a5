// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the records and configuration shared across the
// collection pipeline stages.
package types

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with every request.
	// Reddit rejects requests without a descriptive one.
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// CollectorConfig holds the global collection knobs.
type CollectorConfig struct {
	HTTPConfig `yaml:",inline"`

	// DailyLimit is the shared daily post budget across all sources (default 2000).
	DailyLimit int `json:"daily_limit" yaml:"daily_limit"`

	// MaxPostsPerRequest caps the listing page size (default 80).
	MaxPostsPerRequest int `json:"max_posts_per_request" yaml:"max_posts_per_request"`

	// MinUpvoteRatio is the global floor applied when a source does not set one.
	MinUpvoteRatio float64 `json:"min_upvote_ratio" yaml:"min_upvote_ratio"`

	// RequestInterval is the minimum spacing between upstream requests (default 1s).
	RequestInterval time.Duration `json:"request_interval" yaml:"request_interval"`

	// MaxRetries bounds per-request retry attempts (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// Defaults for CollectorConfig fields left zero.
const (
	DefaultDailyLimit         = 2000
	DefaultMaxPostsPerRequest = 80
	DefaultRequestInterval    = time.Second
	DefaultMaxRetries         = 3
)

// WithDefaults returns a copy with zero fields replaced by defaults.
func (c CollectorConfig) WithDefaults() CollectorConfig {
	if c.DailyLimit <= 0 {
		c.DailyLimit = DefaultDailyLimit
	}
	if c.MaxPostsPerRequest <= 0 {
		c.MaxPostsPerRequest = DefaultMaxPostsPerRequest
	}
	if c.RequestInterval <= 0 {
		c.RequestInterval = DefaultRequestInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// SubredditConfig describes one source community and its collection policy.
type SubredditConfig struct {
	Name               string  `json:"name" yaml:"name"`
	Priority           int     `json:"priority" yaml:"priority"`
	DailyQuota         int     `json:"daily_quota" yaml:"daily_quota"`
	MinScore           int     `json:"min_score" yaml:"min_score"`
	MinComments        int     `json:"min_comments" yaml:"min_comments"`
	MinUpvoteRatio     float64 `json:"min_upvote_ratio" yaml:"min_upvote_ratio"`
	MaxPostsPerRequest int     `json:"max_posts_per_request" yaml:"max_posts_per_request"`
	IsActive           bool    `json:"is_active" yaml:"is_active"`
}

// SourcesFile is the on-disk shape of the sources configuration.
type SourcesFile struct {
	Collector  CollectorConfig   `yaml:"collector"`
	Subreddits []SubredditConfig `yaml:"subreddits"`
}

// LoadSources reads and validates a sources YAML file.
func LoadSources(path string) (SourcesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourcesFile{}, fmt.Errorf("reading sources file: %w", err)
	}
	var f SourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SourcesFile{}, fmt.Errorf("parsing sources file %s: %w", path, err)
	}
	if len(f.Subreddits) == 0 {
		return SourcesFile{}, fmt.Errorf("sources file %s lists no subreddits", path)
	}
	for i, s := range f.Subreddits {
		if s.Name == "" {
			return SourcesFile{}, fmt.Errorf("sources file %s: subreddit %d has no name", path, i)
		}
	}
	f.Collector = f.Collector.WithDefaults()
	return f, nil
}
