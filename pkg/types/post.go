// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// DeletedAuthor is the sentinel Reddit substitutes for a removed account.
const DeletedAuthor = "[deleted]"

// Post is the unit flowing through the collection pipeline. Fields up to
// IsVideo come from the listing API; the remainder are attached during
// processing and persistence.
type Post struct {
	ID          string   `json:"id" yaml:"id"`
	Subreddit   string   `json:"subreddit" yaml:"subreddit"`
	Title       string   `json:"title" yaml:"title"`
	SelfText    string   `json:"selftext,omitempty" yaml:"selftext,omitempty"`
	URL         string   `json:"url" yaml:"url"`
	Permalink   string   `json:"permalink" yaml:"permalink"`
	CreatedUTC  int64    `json:"created_utc" yaml:"created_utc"`
	Author      string   `json:"author,omitempty" yaml:"author,omitempty"`
	Score       int      `json:"score" yaml:"score"`
	NumComments int      `json:"num_comments" yaml:"num_comments"`
	UpvoteRatio *float64 `json:"upvote_ratio,omitempty" yaml:"upvote_ratio,omitempty"`
	Ups         int      `json:"ups" yaml:"ups"`
	Downs       int      `json:"downs" yaml:"downs"`
	Flair       string   `json:"flair,omitempty" yaml:"flair,omitempty"`
	Awards      []string `json:"awards,omitempty" yaml:"awards,omitempty"`
	IsSelf      bool     `json:"is_self" yaml:"is_self"`
	IsVideo     bool     `json:"is_video" yaml:"is_video"`

	RelevanceScore float64 `json:"relevance_score" yaml:"relevance_score"`
	IsRelevant     bool    `json:"is_relevant" yaml:"is_relevant"`
	CollectedAt    int64   `json:"collected_at,omitempty" yaml:"collected_at,omitempty"`
	CollectionDate string  `json:"collection_date,omitempty" yaml:"collection_date,omitempty"`
	BatchID        string  `json:"collection_batch_id,omitempty" yaml:"collection_batch_id,omitempty"`
}

// HasAuthor reports whether the post still has a live author account.
// An empty Author means the account was removed upstream.
func (p Post) HasAuthor() bool {
	return p.Author != "" && p.Author != DeletedAuthor
}

// Age returns the post age relative to now.
func (p Post) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(p.CreatedUTC, 0))
}

// CollectionStats is an append-only record describing one task's outcome.
type CollectionStats struct {
	CollectionDate string `json:"collection_date"`
	BatchID        string `json:"collection_batch_id"`
	Subreddit      string `json:"subreddit"`
	TotalFetched   int    `json:"total_fetched"`
	TotalFiltered  int    `json:"total_filtered"`
	TotalSaved     int    `json:"total_saved"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	Duration       int64  `json:"duration_seconds"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// ErrorLog is an append-only record of one error event.
type ErrorLog struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Subreddit    string `json:"subreddit,omitempty"`
	PostID       string `json:"post_id,omitempty"`
	BatchID      string `json:"collection_batch_id,omitempty"`
	Severity     string `json:"severity"`
	Resolved     bool   `json:"resolved"`
}
