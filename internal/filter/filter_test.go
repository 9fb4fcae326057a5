// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package filter

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/reddit-collector/pkg/types"
)

func ratio(v float64) *float64 { return &v }

// goodPost returns a post that passes every default check.
func goodPost(now time.Time) types.Post {
	return types.Post{
		ID:          "abc12",
		Subreddit:   "golang",
		Title:       "A perfectly reasonable title about concurrency",
		SelfText:    strings.Repeat("substantive discussion of the scheduler ", 3),
		CreatedUTC:  now.Add(-2 * time.Hour).Unix(),
		Author:      "writer",
		Score:       50,
		NumComments: 12,
		UpvoteRatio: ratio(0.9),
		IsSelf:      true,
	}
}

func TestEvaluate_Passes(t *testing.T) {
	now := time.Now()
	res := Evaluate(goodPost(now), Config{}.WithDefaults(), now)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Reasons)
}

func TestEvaluate_CollectsAllReasons(t *testing.T) {
	now := time.Now()
	p := goodPost(now)
	p.Score = 5
	p.NumComments = 2

	res := Evaluate(p, Config{}.WithDefaults(), now)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"low_score:5", "low_comments:2"}, res.Reasons,
		"a two-hour-old post is within the age window")
}

func TestEvaluate_Thresholds(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		mutate func(*types.Post)
		cfg    func(*Config)
		want   string
	}{
		{"low upvote ratio", func(p *types.Post) { p.UpvoteRatio = ratio(0.05) }, nil, "low_upvote_ratio:0.05"},
		{"nil ratio passes", func(p *types.Post) { p.UpvoteRatio = nil }, nil, ""},
		{"too old", func(p *types.Post) { p.CreatedUTC = now.Add(-31 * 24 * time.Hour).Unix() }, nil, "too_old:744.0h"},
		{"too new", func(p *types.Post) { p.CreatedUTC = now.Add(-2 * time.Minute).Unix() }, nil, "too_new:2.0m"},
		{"short title", func(p *types.Post) { p.Title = "hi everyone" }, nil, "short_title:11"},
		{"short selftext", func(p *types.Post) { p.SelfText = "meh" }, nil, "short_selftext:3"},
		{"link post skips selftext check", func(p *types.Post) { p.IsSelf = false; p.SelfText = "" }, nil, ""},
		{"deleted author excluded by default", func(p *types.Post) { p.Author = "" }, nil, "deleted_author"},
		{"deleted author allowed when disabled", func(p *types.Post) { p.Author = "" },
			func(c *Config) { no := false; c.ExcludeDeletedAuthors = &no }, ""},
		{"self post disallowed", nil,
			func(c *Config) { no := false; c.AllowSelfPosts = &no }, "self_post_not_allowed"},
		{"link post disallowed", func(p *types.Post) { p.IsSelf = false; p.SelfText = "" },
			func(c *Config) { no := false; c.AllowLinkPosts = &no }, "link_post_not_allowed"},
		{"video post disallowed", func(p *types.Post) { p.IsSelf = false; p.IsVideo = true; p.SelfText = "" },
			func(c *Config) { no := false; c.AllowVideoPosts = &no }, "video_post_not_allowed"},
		{"removed content in body", func(p *types.Post) { p.SelfText = " [removed] " }, nil, "deleted_content"},
		{"removed marker in title", func(p *types.Post) { p.Title = "[removed] what happened in this thread" }, nil, "deleted_content"},
		{"deleted marker in title", func(p *types.Post) { p.Title = "Why was this [DELETED] so quickly here" }, nil, "deleted_content"},
		{"spam phrase", func(p *types.Post) { p.SelfText = p.SelfText + " BUY NOW while supplies last" }, nil, "spam_indicators"},
		{"lone stop word title", func(p *types.Post) { p.Title = "lol" }, nil, "meaningless_title"},
		{"pure digit title", func(p *types.Post) { p.Title = "1234567890123456" }, nil, "meaningless_title"},
		{"pure punctuation title", func(p *types.Post) { p.Title = "!!!???!!!????!!!!" }, nil, "meaningless_title"},
		{"shouting title", func(p *types.Post) { p.Title = "EVERYONE MUST READ THIS RIGHT NOW" }, nil, "excessive_caps"},
		{"mostly uppercase title", func(p *types.Post) { p.Title = "GOLANG RUNTIME Rocks Hard" }, nil, "excessive_caps"},
		{"mixed case below half passes", func(p *types.Post) { p.Title = "NASA and GPU Benchmarks Here" }, nil, ""},
		{"symbol soup title", func(p *types.Post) { p.Title = "!!! $$$ new thing ###???!!!" }, nil, "excessive_special_chars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := goodPost(now)
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			cfg := Config{}
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			res := Evaluate(p, cfg.WithDefaults(), now)
			if tt.want == "" {
				assert.True(t, res.Passed, "reasons: %v", res.Reasons)
				return
			}
			assert.False(t, res.Passed)
			assert.Contains(t, res.Reasons, tt.want)
		})
	}
}

func TestExcessiveCaps_LengthGate(t *testing.T) {
	// Short all-caps titles are acronym-heavy, not shouting.
	assert.False(t, excessiveCaps("GO GC WINS"))
	assert.True(t, excessiveCaps("GO GC WINS AGAIN"))
	assert.False(t, excessiveCaps("a reasonable length title"))
}

func TestEvaluateAll(t *testing.T) {
	now := time.Now()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bad1 := goodPost(now)
	bad1.ID = "bad01"
	bad1.Score = 1
	bad2 := goodPost(now)
	bad2.ID = "bad02"
	bad2.Score = 2
	bad2.NumComments = 0

	passed, rejected, sum := EvaluateAll(
		[]types.Post{goodPost(now), bad1, bad2}, Config{}.WithDefaults(), now, logger)

	require.Len(t, passed, 1)
	require.Len(t, rejected, 2)
	assert.Equal(t, 3, sum.Evaluated)
	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 2, sum.Rejected)
	assert.Equal(t, 2, sum.Reasons["low_score"], "value suffix stripped from the tally key")
	assert.Equal(t, 1, sum.Reasons["low_comments"])
	assert.InDelta(t, 1.0/3.0, sum.PassRate(), 1e-9)
}

func TestEvaluateAll_Empty(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	passed, rejected, sum := EvaluateAll(nil, Config{}.WithDefaults(), time.Now(), logger)
	assert.Empty(t, passed)
	assert.Empty(t, rejected)
	assert.Zero(t, sum.Evaluated)
	assert.Zero(t, sum.PassRate())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.WithDefaults().Validate())
	assert.Error(t, Config{MinScore: -1}.Validate())
	assert.Error(t, Config{MinUpvoteRatio: 1.5}.Validate())
	assert.Error(t, Config{MinComments: -3}.Validate())
	assert.Error(t, Config{MaxAgeHours: 1, MinAgeMinutes: 120}.Validate())
}

func TestWithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	assert.Equal(t, DefaultMinScore, c.MinScore)
	assert.Equal(t, DefaultMinComments, c.MinComments)
	assert.Equal(t, DefaultMinUpvoteRatio, c.MinUpvoteRatio)
	assert.Equal(t, DefaultMaxAgeHours, c.MaxAgeHours)
	require.NotNil(t, c.AllowSelfPosts)
	assert.True(t, *c.AllowSelfPosts)
	require.NotNil(t, c.ExcludeDeletedAuthors)
	assert.True(t, *c.ExcludeDeletedAuthors)

	// explicit values survive
	c = Config{MinScore: 3, MinComments: 1}.WithDefaults()
	assert.Equal(t, 3, c.MinScore)
	assert.Equal(t, 1, c.MinComments)
}
