// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package relevance scores posts for topical fit using a weighted
// keyword table. Scoring is deterministic for a fixed table; internal
// failures degrade to a permissive verdict so legitimate content is
// never silently discarded by a scorer malfunction.
package relevance

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pdiddy/reddit-collector/pkg/types"
)

// DefaultThreshold is the minimum score for a relevant verdict.
const DefaultThreshold = 2.0

const (
	communityBonus    = 1.0
	hotScoreBonus     = 0.5
	hotCommentsBonus  = 0.3
	highConfScore     = 5.0
	highConfTerms     = 3
	progressLogEvery  = 100
	hotScoreCutoff    = 100
	hotCommentsCutoff = 50
)

// Verdict is one post's relevance decision.
type Verdict struct {
	Relevant     bool     `json:"relevant"`
	Score        float64  `json:"score"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
	// Confidence is high, medium, or low.
	Confidence string `json:"confidence"`
	// Reasons are human-readable notes on what drove the score.
	Reasons []string `json:"reasons,omitempty"`
}

// BatchStats summarizes one ScoreAll run.
type BatchStats struct {
	Total     int     `json:"total"`
	Relevant  int     `json:"relevant"`
	MeanScore float64 `json:"mean_score"`
}

// Scorer evaluates posts against a keyword table. Construct with
// NewScorer; the zero value has no table and scores nothing.
type Scorer struct {
	table     Table
	threshold float64
	allowed   map[string]struct{}
	logger    *slog.Logger
}

// Options tunes a Scorer. Zero fields take defaults.
type Options struct {
	// Table overrides DefaultTable.
	Table *Table
	// Threshold overrides DefaultThreshold.
	Threshold float64
}

// NewScorer builds a Scorer over the given table with a fixed threshold.
func NewScorer(opts Options, logger *slog.Logger) *Scorer {
	table := DefaultTable()
	if opts.Table != nil {
		table = *opts.Table
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]struct{}, len(table.AllowedCommunities))
	for _, c := range table.AllowedCommunities {
		allowed[strings.ToLower(c)] = struct{}{}
	}

	return &Scorer{
		table:     table,
		threshold: opts.Threshold,
		allowed:   allowed,
		logger:    logger.With("component", "relevance"),
	}
}

// Threshold returns the relevance cutoff in use.
func (s *Scorer) Threshold() float64 { return s.threshold }

// Score evaluates one post. Every post is scored, including those from
// allow-listed communities; the allow-list contributes a bonus rather
// than bypassing the threshold. Score never fails: an unusable input
// yields a permissive low-confidence verdict.
func (s *Scorer) Score(post types.Post) Verdict {
	if s.table.Size() == 0 {
		s.logger.Error("scoring with empty keyword table, assuming relevant",
			"post_id", post.ID)
		return Verdict{
			Relevant:   true,
			Score:      1.0,
			Confidence: "low",
			Reasons:    []string{"empty keyword table, assumed relevant"},
		}
	}

	text := analysisText(post)
	matched, score, tiers := s.matchTiers(text)

	reasons := tierReasons(tiers)
	if _, ok := s.allowed[strings.ToLower(post.Subreddit)]; ok {
		score += communityBonus
		reasons = append(reasons, "posted in allow-listed community")
	}
	if post.Score > hotScoreCutoff {
		score += hotScoreBonus
		reasons = append(reasons, "high engagement score")
	}
	if post.NumComments > hotCommentsCutoff {
		score += hotCommentsBonus
	}

	score = math.Round(score*100) / 100
	if score < s.threshold {
		reasons = append(reasons, "low overall relevance score")
	}
	return Verdict{
		Relevant:     score >= s.threshold,
		Score:        score,
		MatchedTerms: matched,
		Confidence:   confidence(score, len(matched)),
		Reasons:      reasons,
	}
}

// ScoreAll evaluates posts independently and attaches the verdict to
// each post's derived fields. Progress is logged every 100 items.
func (s *Scorer) ScoreAll(posts []types.Post) ([]types.Post, BatchStats) {
	s.logger.Info("scoring batch", "total", len(posts))

	stats := BatchStats{Total: len(posts)}
	var scoreSum float64
	out := make([]types.Post, len(posts))
	for i, p := range posts {
		v := s.Score(p)
		p.RelevanceScore = v.Score
		p.IsRelevant = v.Relevant
		out[i] = p

		scoreSum += v.Score
		if v.Relevant {
			stats.Relevant++
		}
		if done := i + 1; done%progressLogEvery == 0 {
			s.logger.Debug("scoring progress", "processed", done, "total", len(posts))
		}
	}
	if stats.Total > 0 {
		stats.MeanScore = math.Round(scoreSum/float64(stats.Total)*100) / 100
	}

	s.logger.Info("batch scored",
		"total", stats.Total, "relevant", stats.Relevant, "mean_score", stats.MeanScore)
	return out, stats
}

// Stats describes the loaded table for diagnostics.
func (s *Scorer) Stats() map[string]int {
	return map[string]int{
		"core":        len(s.table.Core),
		"medium":      len(s.table.Medium),
		"technology":  len(s.table.Technology),
		"application": len(s.table.Application),
		"total":       s.table.Size(),
	}
}

// analysisText builds the scoring input: title doubled for weight, then
// body and flair, lower-cased.
func analysisText(p types.Post) string {
	return strings.ToLower(fmt.Sprintf("%s %s %s %s", p.Title, p.Title, p.SelfText, p.Flair))
}

// tierCounts records how many terms matched per keyword tier.
type tierCounts struct {
	Core        int
	Medium      int
	Technology  int
	Application int
}

// matchTiers finds substring matches per tier and accumulates the
// weighted score. Matched terms are deduplicated across tiers.
func (s *Scorer) matchTiers(text string) ([]string, float64, tierCounts) {
	var score float64
	var counts tierCounts
	seen := map[string]struct{}{}
	var matched []string

	match := func(terms []string, weight float64, count *int) {
		for _, term := range terms {
			t := strings.ToLower(term)
			if !strings.Contains(text, t) {
				continue
			}
			score += weight
			*count++
			if _, dup := seen[t]; !dup {
				seen[t] = struct{}{}
				matched = append(matched, term)
			}
		}
	}
	match(s.table.Core, CoreWeight, &counts.Core)
	match(s.table.Medium, MediumWeight, &counts.Medium)
	match(s.table.Technology, TechnologyWeight, &counts.Technology)
	match(s.table.Application, ApplicationWeight, &counts.Application)

	return matched, score, counts
}

// tierReasons renders the nonzero tier counts as reason strings.
func tierReasons(c tierCounts) []string {
	var reasons []string
	add := func(n int, tier string) {
		if n > 0 {
			reasons = append(reasons, fmt.Sprintf("matched %d %s terms", n, tier))
		}
	}
	add(c.Core, "core")
	add(c.Medium, "medium")
	add(c.Technology, "technology")
	add(c.Application, "application")
	return reasons
}

func confidence(score float64, terms int) string {
	switch {
	case score >= highConfScore && terms >= highConfTerms:
		return "high"
	case score >= DefaultThreshold && terms >= 1:
		return "medium"
	default:
		return "low"
	}
}
