// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reddit

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pdiddy/reddit-collector/pkg/types"
)

// listingEnvelope is the wire shape of a Reddit listing response.
type listingEnvelope struct {
	Kind string `json:"kind"`
	Data struct {
		Children []struct {
			Kind string  `json:"kind"`
			Data rawPost `json:"data"`
		} `json:"children"`
		After  string `json:"after"`
		Before string `json:"before"`
	} `json:"data"`
}

// rawPost is one listing item before validation and cleaning.
type rawPost struct {
	ID            string   `json:"id"`
	Subreddit     string   `json:"subreddit"`
	Title         string   `json:"title"`
	SelfText      string   `json:"selftext"`
	URL           string   `json:"url"`
	Permalink     string   `json:"permalink"`
	CreatedUTC    float64  `json:"created_utc"`
	Author        string   `json:"author"`
	Score         float64  `json:"score"`
	NumComments   float64  `json:"num_comments"`
	UpvoteRatio   *float64 `json:"upvote_ratio"`
	Ups           float64  `json:"ups"`
	Downs         float64  `json:"downs"`
	LinkFlairText string   `json:"link_flair_text"`
	AllAwardings  []struct {
		Name string `json:"name"`
	} `json:"all_awardings"`
	IsSelf              bool `json:"is_self"`
	IsVideo             bool `json:"is_video"`
	IsRedditMediaDomain bool `json:"is_reddit_media_domain"`
}

var postIDPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// validate checks the structural requirements of a listing item.
func (r rawPost) validate() *ValidationError {
	var bad []string
	if r.ID == "" || !postIDPattern.MatchString(r.ID) {
		bad = append(bad, "id")
	}
	if r.Subreddit == "" {
		bad = append(bad, "subreddit")
	}
	if strings.TrimSpace(r.Title) == "" {
		bad = append(bad, "title")
	}
	if r.CreatedUTC <= 0 {
		bad = append(bad, "created_utc")
	}
	if r.NumComments < 0 {
		bad = append(bad, "num_comments")
	}
	if r.UpvoteRatio != nil && (*r.UpvoteRatio < 0 || *r.UpvoteRatio > 1) {
		bad = append(bad, "upvote_ratio")
	}
	if len(bad) > 0 {
		return &ValidationError{PostID: r.ID, Fields: bad}
	}
	return nil
}

// clean converts a validated item into the pipeline Post shape.
// The deleted-author sentinel becomes an empty Author.
func (r rawPost) clean() types.Post {
	p := types.Post{
		ID:          strings.TrimSpace(r.ID),
		Subreddit:   strings.TrimSpace(r.Subreddit),
		Title:       cleanText(r.Title),
		SelfText:    cleanText(r.SelfText),
		URL:         r.URL,
		Permalink:   r.Permalink,
		CreatedUTC:  int64(r.CreatedUTC),
		Score:       max(0, int(r.Score)),
		NumComments: max(0, int(r.NumComments)),
		UpvoteRatio: r.UpvoteRatio,
		Ups:         max(0, int(r.Ups)),
		Downs:       max(0, int(r.Downs)),
		Flair:       strings.TrimSpace(r.LinkFlairText),
		IsSelf:      r.IsSelf,
		IsVideo:     r.IsVideo || r.IsRedditMediaDomain,
	}
	if r.Author != "" && r.Author != types.DeletedAuthor {
		p.Author = strings.TrimSpace(r.Author)
	}
	for _, a := range r.AllAwardings {
		if a.Name != "" {
			p.Awards = append(p.Awards, a.Name)
		}
	}
	return p
}

// parseListing decodes a listing envelope, dropping items that fail
// structural validation. It returns the valid posts and the dropped count.
func parseListing(body []byte) ([]types.Post, int, error) {
	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, err
	}

	posts := make([]types.Post, 0, len(env.Data.Children))
	dropped := 0
	for _, child := range env.Data.Children {
		if verr := child.Data.validate(); verr != nil {
			dropped++
			continue
		}
		posts = append(posts, child.Data.clean())
	}
	return posts, dropped, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// cleanText trims and collapses internal whitespace runs.
func cleanText(s string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}
