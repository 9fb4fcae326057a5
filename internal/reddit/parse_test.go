// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reddit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleListing = `{
  "kind": "Listing",
  "data": {
    "children": [
      {"kind": "t3", "data": {
        "id": "abc123", "subreddit": "golang", "title": "  A   post about   concurrency  ",
        "selftext": "some body", "url": "https://example.com/x",
        "permalink": "/r/golang/comments/abc123/", "created_utc": 1767225600.0,
        "author": "gopher", "score": 42, "num_comments": 7, "upvote_ratio": 0.93,
        "ups": 45, "downs": 3, "link_flair_text": "discussion",
        "all_awardings": [{"name": "gold"}, {"name": "silver"}],
        "is_self": true, "is_video": false
      }},
      {"kind": "t3", "data": {
        "id": "", "subreddit": "golang", "title": "missing id", "created_utc": 1767225600.0
      }},
      {"kind": "t3", "data": {
        "id": "def456", "subreddit": "golang", "title": "   ", "created_utc": 1767225600.0
      }},
      {"kind": "t3", "data": {
        "id": "ghi789", "subreddit": "golang", "title": "deleted author post",
        "created_utc": 1767225600.0, "author": "[deleted]", "score": -5,
        "is_reddit_media_domain": true
      }}
    ],
    "after": "t3_xyz"
  }
}`

func TestParseListing(t *testing.T) {
	posts, dropped, err := parseListing([]byte(sampleListing))
	require.NoError(t, err)
	assert.Equal(t, 2, dropped, "empty id and blank title must be dropped")
	require.Len(t, posts, 2)

	p := posts[0]
	assert.Equal(t, "abc123", p.ID)
	assert.Equal(t, "golang", p.Subreddit)
	assert.Equal(t, "A post about concurrency", p.Title, "whitespace runs collapse")
	assert.Equal(t, "some body", p.SelfText)
	assert.Equal(t, int64(1767225600), p.CreatedUTC)
	assert.Equal(t, "gopher", p.Author)
	assert.Equal(t, 42, p.Score)
	assert.Equal(t, 7, p.NumComments)
	require.NotNil(t, p.UpvoteRatio)
	assert.InDelta(t, 0.93, *p.UpvoteRatio, 1e-9)
	assert.Equal(t, "discussion", p.Flair)
	assert.Equal(t, []string{"gold", "silver"}, p.Awards)
	assert.True(t, p.IsSelf)

	deleted := posts[1]
	assert.Equal(t, "", deleted.Author, "deleted sentinel maps to empty author")
	assert.False(t, deleted.HasAuthor())
	assert.Equal(t, 0, deleted.Score, "negative score floors at zero")
	assert.True(t, deleted.IsVideo, "reddit media domain counts as video")
}

func TestParseListing_BadJSON(t *testing.T) {
	_, _, err := parseListing([]byte(`{"data": [1,2,3`))
	assert.Error(t, err)
}

func TestParseListing_EmptyEnvelope(t *testing.T) {
	posts, dropped, err := parseListing([]byte(`{"kind":"Listing","data":{"children":[]}}`))
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Zero(t, dropped)
}

func TestValidate(t *testing.T) {
	ratio := func(v float64) *float64 { return &v }
	valid := rawPost{ID: "abc12", Subreddit: "golang", Title: "t", CreatedUTC: 100}

	tests := []struct {
		name    string
		mutate  func(*rawPost)
		wantBad []string
	}{
		{"valid", func(*rawPost) {}, nil},
		{"uppercase id", func(p *rawPost) { p.ID = "ABC" }, []string{"id"}},
		{"no subreddit", func(p *rawPost) { p.Subreddit = "" }, []string{"subreddit"}},
		{"zero timestamp", func(p *rawPost) { p.CreatedUTC = 0 }, []string{"created_utc"}},
		{"ratio out of range", func(p *rawPost) { p.UpvoteRatio = ratio(1.5) }, []string{"upvote_ratio"}},
		{"negative comments", func(p *rawPost) { p.NumComments = -1 }, []string{"num_comments"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			verr := p.validate()
			if tt.wantBad == nil {
				assert.Nil(t, verr)
				return
			}
			require.NotNil(t, verr)
			assert.Equal(t, tt.wantBad, verr.Fields)
			assert.Contains(t, verr.Error(), fmt.Sprint(tt.wantBad))
		})
	}
}
