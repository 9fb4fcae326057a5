// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package process composes the quality filter and the relevance scorer
// into the per-post and per-batch collection decision.
package process

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pdiddy/reddit-collector/internal/filter"
	"github.com/pdiddy/reddit-collector/internal/relevance"
	"github.com/pdiddy/reddit-collector/pkg/types"
)

// Decision is the verdict for one post after both stages.
type Decision struct {
	Retained bool `json:"retained"`
	// FilterReasons is empty when the quality gate passed.
	FilterReasons []string `json:"filter_reasons,omitempty"`
	// Relevance is nil when the quality gate rejected the post or
	// scoring is disabled.
	Relevance *relevance.Verdict `json:"relevance,omitempty"`
}

// RelevanceStats summarizes the scoring stage of one batch. Counts
// cover only posts that reached the scorer.
type RelevanceStats struct {
	Relevant   int     `json:"relevant"`
	Irrelevant int     `json:"irrelevant"`
	MeanScore  float64 `json:"mean_score"`
}

// Stats aggregates one batch run.
type Stats struct {
	Total    int `json:"total"`
	Retained int `json:"retained"`
	Filtered int `json:"filtered"`
	// FilterReasons tallies quality rejections by label.
	FilterReasons map[string]int `json:"filter_reasons,omitempty"`
	// Relevance is nil when scoring is disabled.
	Relevance *RelevanceStats `json:"relevance,omitempty"`
}

// Options tunes a Processor.
type Options struct {
	// DisableScoring retains every quality survivor without relevance
	// scoring. Stats.Relevance stays nil.
	DisableScoring bool
}

// Processor runs quality filtering first, then relevance scoring on the
// survivors. The scorer is the expensive stage and never sees posts the
// cheap deterministic gate already rejected.
type Processor struct {
	cfg     filter.Config
	scorer  *relevance.Scorer
	scoring bool
	logger  *slog.Logger

	now func() time.Time
}

// NewProcessor builds a Processor. cfg zero-values take the filter
// package defaults.
func NewProcessor(cfg filter.Config, scorer *relevance.Scorer, opts Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:     cfg.WithDefaults(),
		scorer:  scorer,
		scoring: !opts.DisableScoring,
		logger:  logger.With("component", "process"),
		now:     time.Now,
	}
}

// One decides a single post. Quality rejection short-circuits scoring.
func (p *Processor) One(post types.Post) Decision {
	res := filter.Evaluate(post, p.cfg, p.now())
	if !res.Passed {
		return Decision{Retained: false, FilterReasons: res.Reasons}
	}
	if !p.scoring {
		return Decision{Retained: true}
	}
	v := p.scorer.Score(post)
	return Decision{Retained: v.Relevant, Relevance: &v}
}

// All processes a batch with the Processor's base config.
func (p *Processor) All(posts []types.Post) ([]types.Post, Stats, error) {
	return p.AllWith(posts, p.cfg)
}

// AllWith processes a batch with per-call filter overrides, for sources
// that carry their own thresholds. Filter, then score the survivors,
// and retain only posts that pass both stages. An unexpected panic
// mid-batch degrades to retaining nothing rather than returning a
// partially processed batch in an undefined state.
func (p *Processor) AllWith(posts []types.Post, cfg filter.Config) (retained []types.Post, stats Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("batch processing panicked, discarding batch", "panic", r)
			retained = nil
			stats = Stats{Total: len(posts), Filtered: len(posts)}
			err = fmt.Errorf("batch processing failed: %v", r)
		}
	}()

	now := p.now()
	passed, _, fsum := filter.EvaluateAll(posts, cfg.WithDefaults(), now, p.logger)

	stats = Stats{
		Total:         len(posts),
		FilterReasons: fsum.Reasons,
	}

	survivors := passed
	if p.scoring {
		scored, rstats := p.scorer.ScoreAll(passed)
		stats.Relevance = &RelevanceStats{
			Relevant:   rstats.Relevant,
			Irrelevant: rstats.Total - rstats.Relevant,
			MeanScore:  rstats.MeanScore,
		}
		survivors = scored
	}

	retained = make([]types.Post, 0, len(survivors))
	date := now.UTC().Format("2006-01-02")
	for _, post := range survivors {
		if p.scoring && !post.IsRelevant {
			continue
		}
		post.CollectedAt = now.Unix()
		post.CollectionDate = date
		retained = append(retained, post)
	}
	stats.Retained = len(retained)
	stats.Filtered = stats.Total - stats.Retained

	p.logger.Info("batch processed",
		"total", stats.Total, "retained", stats.Retained,
		"quality_rejected", fsum.Rejected, "scoring", p.scoring)
	return retained, stats, nil
}

// RetentionRate returns the fraction of the batch that survived both stages.
func (s Stats) RetentionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return math.Round(float64(s.Retained)/float64(s.Total)*1000) / 1000
}
