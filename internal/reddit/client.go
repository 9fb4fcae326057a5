// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reddit fetches and parses listings from the Reddit content
// API. Every request flows through the rate governor and the token
// authority; transient failures (401, 429, 5xx) are retried with
// exponential backoff.
package reddit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pdiddy/reddit-collector/internal/auth"
	"github.com/pdiddy/reddit-collector/internal/ratelimit"
	"github.com/pdiddy/reddit-collector/pkg/types"
)

// DefaultBaseURL is the authenticated Reddit API host.
const DefaultBaseURL = "https://oauth.reddit.com"

const (
	defaultMaxRetries = 3
	defaultRetryBase  = time.Second
	defaultMaxAge     = 720 * time.Hour // 30 days
)

// ListingOptions selects what a listing fetch returns.
type ListingOptions struct {
	// Sort is one of hot, new, top, rising (default hot).
	Sort string
	// Window is the top-listing time window (hour, day, week, month, year, all).
	Window string
	// Limit caps the page size.
	Limit int
	// MaxAge drops posts older than this after parsing (default 720h).
	MaxAge time.Duration
}

// SearchOptions selects what a search returns.
type SearchOptions struct {
	// Subreddit restricts the search to one community when set.
	Subreddit string
	// Sort is one of relevance, hot, top, new, comments (default relevance).
	Sort string
	// Window is the top-sort time window.
	Window string
	Limit  int
	MaxAge time.Duration
}

// ClientStatus composes the auth and governor snapshots.
type ClientStatus struct {
	Auth      auth.Status            `json:"auth"`
	RateLimit ratelimit.Status       `json:"rate_limit"`
	Requests  ratelimit.RequestStats `json:"requests"`
}

// Client fetches listings from the content API.
type Client struct {
	baseURL    string
	userAgent  string
	maxRetries int
	retryBase  time.Duration
	httpClient *http.Client
	authority  *auth.Authority
	governor   *ratelimit.Governor
	logger     *slog.Logger
}

// Options configures a Client. Zero fields take defaults.
type Options struct {
	BaseURL    string
	UserAgent  string
	MaxRetries int
	HTTPClient *http.Client
}

// NewClient returns a Client issuing requests through the given
// authority and governor. Both are required: the governor must be the
// single instance gating this upstream endpoint.
func NewClient(authority *auth.Authority, governor *ratelimit.Governor, opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		maxRetries: opts.MaxRetries,
		retryBase:  defaultRetryBase,
		httpClient: opts.HTTPClient,
		authority:  authority,
		governor:   governor,
		logger:     logger.With("component", "reddit"),
	}
}

// Listing fetches one page of posts from a subreddit and filters out
// posts older than opts.MaxAge.
func (c *Client) Listing(ctx context.Context, subreddit string, opts ListingOptions) ([]types.Post, error) {
	if opts.Sort == "" {
		opts.Sort = "hot"
	}
	if opts.Limit <= 0 {
		opts.Limit = types.DefaultMaxPostsPerRequest
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = defaultMaxAge
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprint(opts.Limit))
	q.Set("raw_json", "1")
	if opts.Sort == "top" && opts.Window != "" {
		q.Set("t", opts.Window)
	}
	reqURL := fmt.Sprintf("%s/r/%s/%s.json?%s", c.baseURL, url.PathEscape(subreddit), opts.Sort, q.Encode())

	posts, err := c.fetchPosts(ctx, reqURL, opts.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("listing r/%s: %w", subreddit, err)
	}
	c.logger.Info("listing fetched", "subreddit", subreddit, "sort", opts.Sort, "posts", len(posts))
	return posts, nil
}

// Search queries the search endpoint, optionally restricted to one subreddit.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]types.Post, error) {
	if opts.Sort == "" {
		opts.Sort = "relevance"
	}
	if opts.Limit <= 0 {
		opts.Limit = types.DefaultMaxPostsPerRequest
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = defaultMaxAge
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", opts.Sort)
	q.Set("limit", fmt.Sprint(opts.Limit))
	q.Set("raw_json", "1")
	if opts.Sort == "top" && opts.Window != "" {
		q.Set("t", opts.Window)
	}

	var reqURL string
	if opts.Subreddit != "" {
		q.Set("restrict_sr", "on")
		reqURL = fmt.Sprintf("%s/r/%s/search.json?%s", c.baseURL, url.PathEscape(opts.Subreddit), q.Encode())
	} else {
		reqURL = fmt.Sprintf("%s/search.json?%s", c.baseURL, q.Encode())
	}

	posts, err := c.fetchPosts(ctx, reqURL, opts.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return posts, nil
}

// ListingMany fetches several subreddits sequentially: the rate budget
// is shared, so sources are never fetched concurrently. A failure on
// one source is logged and yields an empty slice for that source.
func (c *Client) ListingMany(ctx context.Context, subreddits []string, opts ListingOptions) map[string][]types.Post {
	results := make(map[string][]types.Post, len(subreddits))
	failed := 0
	for _, sub := range subreddits {
		posts, err := c.Listing(ctx, sub, opts)
		if err != nil {
			c.logger.Error("subreddit fetch failed", "subreddit", sub, "error", err)
			results[sub] = nil
			failed++
			continue
		}
		results[sub] = posts
	}
	c.logger.Info("multi-subreddit fetch completed",
		"subreddits", len(subreddits), "failed", failed)
	return results
}

// ValidateConnection verifies credentials against the identity endpoint.
func (c *Client) ValidateConnection(ctx context.Context) error {
	return c.authority.Validate(ctx)
}

// Status reports the composed client state for diagnostics.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		Auth:      c.authority.Status(),
		RateLimit: c.governor.Status(),
		Requests:  c.governor.Stats(),
	}
}

// fetchPosts issues a governed GET, parses the listing envelope, and
// applies the age filter.
func (c *Client) fetchPosts(ctx context.Context, reqURL string, maxAge time.Duration) ([]types.Post, error) {
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	posts, dropped, err := parseListing(body)
	if err != nil {
		return nil, fmt.Errorf("parsing listing: %w", err)
	}
	if dropped > 0 {
		c.logger.Warn("dropped invalid listing items", "dropped", dropped)
	}

	cutoff := time.Now().Add(-maxAge)
	fresh := posts[:0]
	for _, p := range posts {
		if time.Unix(p.CreatedUTC, 0).After(cutoff) {
			fresh = append(fresh, p)
		}
	}
	return fresh, nil
}

// get runs the retry loop: governor slot, bearer token, request, header
// feedback, error classification. A 401 invalidates the token; a 429
// triggers the governor backoff; both re-enter the loop naturally.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	backoff := c.retryBase
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, err := c.attempt(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.logger.Warn("request attempt failed",
			"url", reqURL, "attempt", attempt, "max", c.maxRetries, "error", err)
	}

	if fe, ok := lastErr.(*FetchError); ok {
		fe.Attempts = c.maxRetries
		return nil, fe
	}
	return nil, &FetchError{Message: lastErr.Error(), Attempts: c.maxRetries}
}

func (c *Client) attempt(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.governor.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.authority.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	c.governor.ObserveHeaders(resp.Header)
	c.logger.Debug("api call", "method", "GET", "url", reqURL,
		"status", resp.StatusCode, "duration", time.Since(start))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusUnauthorized:
		c.authority.Invalidate()
		return nil, &AuthError{Status: resp.StatusCode, Message: resp.Status}
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		if err := c.governor.OnTooManyRequests(ctx, resp); err != nil {
			return nil, err
		}
		return nil, &RateLimitError{Message: resp.Status}
	default:
		msg := resp.Status
		if body, rerr := io.ReadAll(io.LimitReader(resp.Body, 512)); rerr == nil && len(body) > 0 {
			msg = fmt.Sprintf("%s - %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return nil, &FetchError{Status: resp.StatusCode, Message: msg}
	}
}
