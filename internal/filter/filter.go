// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package filter applies the quality gate to collected posts. Every
// rejection carries a reason label so batch summaries can report why
// posts were dropped.
package filter

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pdiddy/reddit-collector/pkg/types"
)

// Default thresholds for the quality gate.
const (
	DefaultMinScore          = 10
	DefaultMinComments       = 5
	DefaultMinUpvoteRatio    = 0.1
	DefaultMaxAgeHours       = 720
	DefaultMinAgeMinutes     = 5
	DefaultMinTitleLength    = 15
	DefaultMinSelfTextLength = 50
)

// Config holds the quality thresholds. Zero values mean "use default";
// build a usable Config with WithDefaults.
type Config struct {
	MinScore          int     `yaml:"min_score" json:"min_score"`
	MinComments       int     `yaml:"min_comments" json:"min_comments"`
	MinUpvoteRatio    float64 `yaml:"min_upvote_ratio" json:"min_upvote_ratio"`
	MaxAgeHours       int     `yaml:"max_age_hours" json:"max_age_hours"`
	MinAgeMinutes     int     `yaml:"min_age_minutes" json:"min_age_minutes"`
	MinTitleLength    int     `yaml:"min_title_length" json:"min_title_length"`
	MinSelfTextLength int     `yaml:"min_self_text_length" json:"min_self_text_length"`

	// AllowSelfPosts and friends gate by post kind. All default to true.
	AllowSelfPosts  *bool `yaml:"allow_self_posts" json:"allow_self_posts"`
	AllowLinkPosts  *bool `yaml:"allow_link_posts" json:"allow_link_posts"`
	AllowVideoPosts *bool `yaml:"allow_video_posts" json:"allow_video_posts"`

	// ExcludeDeletedAuthors rejects posts whose author account was
	// deleted. Defaults to true.
	ExcludeDeletedAuthors *bool `yaml:"exclude_deleted_authors" json:"exclude_deleted_authors"`
}

// WithDefaults fills zero thresholds with the package defaults.
func (c Config) WithDefaults() Config {
	if c.MinScore == 0 {
		c.MinScore = DefaultMinScore
	}
	if c.MinComments == 0 {
		c.MinComments = DefaultMinComments
	}
	if c.MinUpvoteRatio == 0 {
		c.MinUpvoteRatio = DefaultMinUpvoteRatio
	}
	if c.MaxAgeHours == 0 {
		c.MaxAgeHours = DefaultMaxAgeHours
	}
	if c.MinAgeMinutes == 0 {
		c.MinAgeMinutes = DefaultMinAgeMinutes
	}
	if c.MinTitleLength == 0 {
		c.MinTitleLength = DefaultMinTitleLength
	}
	if c.MinSelfTextLength == 0 {
		c.MinSelfTextLength = DefaultMinSelfTextLength
	}
	yes := true
	if c.AllowSelfPosts == nil {
		c.AllowSelfPosts = &yes
	}
	if c.AllowLinkPosts == nil {
		c.AllowLinkPosts = &yes
	}
	if c.AllowVideoPosts == nil {
		c.AllowVideoPosts = &yes
	}
	if c.ExcludeDeletedAuthors == nil {
		c.ExcludeDeletedAuthors = &yes
	}
	return c
}

// Validate rejects configs that cannot pass any post.
func (c Config) Validate() error {
	if c.MinScore < 0 {
		return fmt.Errorf("min_score must be non-negative, got %d", c.MinScore)
	}
	if c.MinComments < 0 {
		return fmt.Errorf("min_comments must be non-negative, got %d", c.MinComments)
	}
	if c.MinUpvoteRatio < 0 || c.MinUpvoteRatio > 1 {
		return fmt.Errorf("min_upvote_ratio must be in [0,1], got %g", c.MinUpvoteRatio)
	}
	if c.MaxAgeHours < 0 {
		return fmt.Errorf("max_age_hours must be non-negative, got %d", c.MaxAgeHours)
	}
	if c.MinAgeMinutes < 0 {
		return fmt.Errorf("min_age_minutes must be non-negative, got %d", c.MinAgeMinutes)
	}
	if c.MaxAgeHours > 0 && time.Duration(c.MaxAgeHours)*time.Hour < time.Duration(c.MinAgeMinutes)*time.Minute {
		return fmt.Errorf("max_age_hours (%d) below min_age_minutes (%d)", c.MaxAgeHours, c.MinAgeMinutes)
	}
	return nil
}

// Result is the verdict for one post. Reasons lists every failed check,
// not just the first.
type Result struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// Summary aggregates verdicts across one evaluated batch.
type Summary struct {
	Evaluated int            `json:"evaluated"`
	Passed    int            `json:"passed"`
	Rejected  int            `json:"rejected"`
	Reasons   map[string]int `json:"reasons,omitempty"`
}

// PassRate returns the fraction of evaluated posts that passed.
func (s Summary) PassRate() float64 {
	if s.Evaluated == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Evaluated)
}

var (
	spamPattern   = regexp.MustCompile(`(?i)\b(buy now|click here|limited time|act now|free money|crypto pump|100% guaranteed)\b`)
	upperCharRe   = regexp.MustCompile(`[A-Z]`)
	specialCharRe = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

	// Meaningless titles: a lone stop word, pure punctuation, or pure digits.
	meaninglessPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(this|that|it|wow|lol|omg|wtf)$`),
		regexp.MustCompile(`^[.!?]+$`),
		regexp.MustCompile(`^[0-9]+$`),
	}
)

// Evaluate runs every quality check against one post. It is pure: the
// clock is passed in so verdicts are reproducible.
func Evaluate(p types.Post, cfg Config, now time.Time) Result {
	var reasons []string

	if p.Score < cfg.MinScore {
		reasons = append(reasons, fmt.Sprintf("low_score:%d", p.Score))
	}
	if p.NumComments < cfg.MinComments {
		reasons = append(reasons, fmt.Sprintf("low_comments:%d", p.NumComments))
	}
	if p.UpvoteRatio != nil && *p.UpvoteRatio < cfg.MinUpvoteRatio {
		reasons = append(reasons, fmt.Sprintf("low_upvote_ratio:%.2f", *p.UpvoteRatio))
	}

	age := p.Age(now)
	if maxAge := time.Duration(cfg.MaxAgeHours) * time.Hour; age > maxAge {
		reasons = append(reasons, fmt.Sprintf("too_old:%.1fh", age.Hours()))
	}
	if minAge := time.Duration(cfg.MinAgeMinutes) * time.Minute; age < minAge {
		reasons = append(reasons, fmt.Sprintf("too_new:%.1fm", age.Minutes()))
	}

	title := strings.TrimSpace(p.Title)
	if len(title) < cfg.MinTitleLength {
		reasons = append(reasons, fmt.Sprintf("short_title:%d", len(title)))
	}
	if p.IsSelf {
		if body := strings.TrimSpace(p.SelfText); len(body) < cfg.MinSelfTextLength {
			reasons = append(reasons, fmt.Sprintf("short_selftext:%d", len(body)))
		}
	}

	if *cfg.ExcludeDeletedAuthors && !p.HasAuthor() {
		reasons = append(reasons, "deleted_author")
	}
	if p.IsSelf && !*cfg.AllowSelfPosts {
		reasons = append(reasons, "self_post_not_allowed")
	}
	if !p.IsSelf && !p.IsVideo && !*cfg.AllowLinkPosts {
		reasons = append(reasons, "link_post_not_allowed")
	}
	if p.IsVideo && !*cfg.AllowVideoPosts {
		reasons = append(reasons, "video_post_not_allowed")
	}

	if isDeletedContent(p) {
		reasons = append(reasons, "deleted_content")
	}
	if spamPattern.MatchString(p.Title) || spamPattern.MatchString(p.SelfText) {
		reasons = append(reasons, "spam_indicators")
	}
	if isMeaninglessTitle(title) {
		reasons = append(reasons, "meaningless_title")
	}
	if excessiveCaps(title) {
		reasons = append(reasons, "excessive_caps")
	}
	if excessiveSpecialChars(title) {
		reasons = append(reasons, "excessive_special_chars")
	}

	return Result{Passed: len(reasons) == 0, Reasons: reasons}
}

// EvaluateAll partitions posts into passed and rejected and tallies
// rejection reasons by label (the text before the first colon).
func EvaluateAll(posts []types.Post, cfg Config, now time.Time, logger *slog.Logger) ([]types.Post, []types.Post, Summary) {
	if logger == nil {
		logger = slog.Default()
	}

	passed := make([]types.Post, 0, len(posts))
	var rejected []types.Post
	sum := Summary{Evaluated: len(posts), Reasons: map[string]int{}}

	for _, p := range posts {
		res := Evaluate(p, cfg, now)
		if res.Passed {
			passed = append(passed, p)
			continue
		}
		rejected = append(rejected, p)
		for _, r := range res.Reasons {
			sum.Reasons[reasonLabel(r)]++
		}
	}
	sum.Passed = len(passed)
	sum.Rejected = len(rejected)

	logger.Info("quality filter applied",
		"evaluated", sum.Evaluated, "passed", sum.Passed, "rejected", sum.Rejected)
	return passed, rejected, sum
}

// reasonLabel strips the value suffix from a reason, e.g. "low_score:5"
// becomes "low_score".
func reasonLabel(r string) string {
	if i := strings.IndexByte(r, ':'); i >= 0 {
		return r[:i]
	}
	return r
}

// isDeletedContent flags posts carrying a deletion or removal marker in
// the title or as the whole body.
func isDeletedContent(p types.Post) bool {
	title := strings.ToLower(p.Title)
	if strings.Contains(title, "[deleted]") || strings.Contains(title, "[removed]") {
		return true
	}
	body := strings.TrimSpace(p.SelfText)
	return body == "[deleted]" || body == "[removed]"
}

func isMeaninglessTitle(title string) bool {
	for _, re := range meaninglessPatterns {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}

// excessiveCaps flags titles where over half the characters are
// uppercase, ignoring short titles where acronyms dominate naturally.
func excessiveCaps(title string) bool {
	if len(title) <= 10 {
		return false
	}
	upper := len(upperCharRe.FindAllString(title, -1))
	return float64(upper)/float64(len(title)) > 0.5
}

// excessiveSpecialChars flags titles where over 30% of characters are
// neither alphanumeric nor whitespace.
func excessiveSpecialChars(title string) bool {
	if len(title) == 0 {
		return false
	}
	special := len(specialCharRe.FindAllString(title, -1))
	return float64(special)/float64(len(title)) > 0.3
}
