// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package auth manages the OAuth2 client-credentials token for the
// Reddit API: exchange, caching with an expiry buffer, and explicit
// invalidation on authentication failure.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTokenURL is Reddit's client-credentials exchange endpoint.
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"

	// DefaultIdentityURL is the authenticated identity probe used by Validate.
	DefaultIdentityURL = "https://oauth.reddit.com/api/v1/me"

	// expiryBuffer expires tokens early so requests in flight never
	// carry a token that lapses mid-call.
	expiryBuffer = 5 * time.Minute

	// refreshWait bounds how long a caller waits on another caller's
	// in-flight refresh before attempting its own.
	refreshWait = 30 * time.Second
)

// Error reports a failed credential exchange or identity probe.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth: %s (HTTP %d)", e.Message, e.Status)
	}
	return "auth: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status describes the cached token for diagnostics.
type Status struct {
	HasToken     bool          `json:"has_token"`
	IsValid      bool          `json:"is_valid"`
	TimeToExpiry time.Duration `json:"time_to_expiry"`
}

// Authority owns the access token lifecycle. A single Authority instance
// gates all token use for one set of credentials; the zero value is not
// usable, construct with New.
type Authority struct {
	clientID     string
	clientSecret string
	userAgent    string
	tokenURL     string
	identityURL  string
	client       *http.Client
	logger       *slog.Logger

	mu      sync.Mutex
	token   string
	expiry  time.Time
	pending chan struct{} // non-nil while a refresh is in flight

	now func() time.Time
}

// Options configures an Authority. Zero fields take defaults.
type Options struct {
	// TokenURL overrides the credential exchange endpoint.
	TokenURL string
	// IdentityURL overrides the identity probe endpoint.
	IdentityURL string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// New returns an Authority for the given credentials.
func New(clientID, clientSecret, userAgent string, opts Options) *Authority {
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.IdentityURL == "" {
		opts.IdentityURL = DefaultIdentityURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Authority{
		clientID:     clientID,
		clientSecret: clientSecret,
		userAgent:    userAgent,
		tokenURL:     opts.TokenURL,
		identityURL:  opts.IdentityURL,
		client:       opts.HTTPClient,
		logger:       opts.Logger.With("component", "auth"),
		now:          time.Now,
	}
}

// Token returns a valid bearer token, refreshing if the cached one is
// absent or inside the expiry buffer. Concurrent callers share one
// refresh: while an exchange is in flight they wait (bounded) rather
// than issuing parallel exchanges.
func (a *Authority) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.validLocked() {
		tok := a.token
		a.mu.Unlock()
		return tok, nil
	}
	pending := a.pending
	a.mu.Unlock()

	if pending != nil {
		select {
		case <-pending:
			a.mu.Lock()
			if a.validLocked() {
				tok := a.token
				a.mu.Unlock()
				return tok, nil
			}
			a.mu.Unlock()
		case <-time.After(refreshWait):
			a.logger.Warn("token refresh wait timed out, attempting own refresh")
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return a.refresh(ctx)
}

// Invalidate discards the cached token. The client calls this on a 401
// so the next request forces a fresh exchange.
func (a *Authority) Invalidate() {
	a.mu.Lock()
	a.token = ""
	a.expiry = time.Time{}
	a.mu.Unlock()
	a.logger.Debug("access token invalidated")
}

// Status reports the cached token state.
func (a *Authority) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Status{HasToken: a.token != ""}
	if s.HasToken {
		s.IsValid = a.validLocked()
		s.TimeToExpiry = a.expiry.Sub(a.now())
	}
	return s
}

// Validate obtains a token and probes the identity endpoint with it.
// Used by preflight checks before a collection run.
func (a *Authority) Validate(ctx context.Context) error {
	tok, err := a.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.identityURL, nil)
	if err != nil {
		return &Error{Message: "building identity request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return &Error{Message: "identity request failed", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Message: "identity probe rejected"}
	}
	return nil
}

// validLocked reports whether the cached token is usable. Callers hold mu.
func (a *Authority) validLocked() bool {
	return a.token != "" && a.now().Add(expiryBuffer).Before(a.expiry)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// refresh performs the client-credentials exchange and caches the result.
// A caller that finds another exchange already in flight waits for it
// (bounded) and reuses its token instead of racing it with a parallel
// exchange.
func (a *Authority) refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.validLocked() {
		tok := a.token
		a.mu.Unlock()
		return tok, nil
	}
	pending := a.pending
	a.mu.Unlock()

	if pending != nil {
		select {
		case <-pending:
			a.mu.Lock()
			if a.validLocked() {
				tok := a.token
				a.mu.Unlock()
				return tok, nil
			}
			a.mu.Unlock()
		case <-time.After(refreshWait):
			a.logger.Warn("token refresh wait timed out, proceeding with own exchange")
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	a.mu.Lock()
	done := make(chan struct{})
	registered := a.pending == nil
	if registered {
		a.pending = done
	}
	a.mu.Unlock()

	if registered {
		defer func() {
			a.mu.Lock()
			a.pending = nil
			a.mu.Unlock()
			close(done)
		}()
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &Error{Message: "building token request", Err: err}
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", a.userAgent)

	start := a.now()
	resp, err := a.client.Do(req)
	if err != nil {
		return "", &Error{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &Error{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("token exchange rejected: %s", strings.TrimSpace(string(body))),
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &Error{Message: "parsing token response", Err: err}
	}
	if tr.AccessToken == "" {
		return "", &Error{Message: "no access token in response"}
	}

	a.mu.Lock()
	a.token = tr.AccessToken
	a.expiry = a.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	expiry := a.expiry
	a.mu.Unlock()

	a.logger.Info("access token refreshed",
		"token_type", tr.TokenType,
		"expires_in", tr.ExpiresIn,
		"expiry", expiry.UTC().Format(time.RFC3339),
		"duration", a.now().Sub(start))

	return tr.AccessToken, nil
}
