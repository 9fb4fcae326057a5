// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit paces requests to the Reddit API: a minimum
// inter-request interval plus rolling per-minute and per-hour caps.
// A single Governor instance must gate every request to one upstream
// endpoint; there is no cross-process coordination.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMinInterval   = time.Second
	defaultPerMinute     = 60
	defaultPerHour       = 3600
	lowRemainingInterval = 2 * time.Second
	backoffFloor         = 5 * time.Second
	defaultRetryAfter    = time.Minute
	historyWindow        = time.Hour
)

// Options configures a Governor. Zero fields take the package defaults.
type Options struct {
	MinInterval          time.Duration
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
}

// Status is a snapshot of the governor state for diagnostics.
type Status struct {
	MinuteRequests       int           `json:"minute_requests"`
	HourRequests         int           `json:"hour_requests"`
	MaxRequestsPerMinute int           `json:"max_requests_per_minute"`
	MaxRequestsPerHour   int           `json:"max_requests_per_hour"`
	MinInterval          time.Duration `json:"min_interval"`
	TimeSinceLastRequest time.Duration `json:"time_since_last_request"`
	TimeToMinuteReset    time.Duration `json:"time_to_minute_reset"`
	TimeToHourReset      time.Duration `json:"time_to_hour_reset"`
}

// RequestStats summarizes the recent request history.
type RequestStats struct {
	RequestsLastHour   int           `json:"requests_last_hour"`
	RequestsLastMinute int           `json:"requests_last_minute"`
	AverageInterval    time.Duration `json:"average_interval"`
}

// Governor enforces request spacing and rolling window caps. Window
// boundaries are evaluated lazily on each Wait call rather than by
// timers, so an idle governor costs nothing.
type Governor struct {
	mu sync.Mutex

	minInterval time.Duration
	perMinute   int
	perHour     int
	limiter     *rate.Limiter

	minuteCount int
	hourCount   int
	minuteReset time.Time
	hourReset   time.Time
	lastRequest time.Time
	history     []time.Time

	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGovernor returns a Governor with the given options applied over
// the defaults (1s interval, 60/minute, 3600/hour).
func NewGovernor(opts Options, logger *slog.Logger) *Governor {
	if opts.MinInterval <= 0 {
		opts.MinInterval = defaultMinInterval
	}
	if opts.MaxRequestsPerMinute <= 0 {
		opts.MaxRequestsPerMinute = defaultPerMinute
	}
	if opts.MaxRequestsPerHour <= 0 {
		opts.MaxRequestsPerHour = defaultPerHour
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Governor{
		minInterval: opts.MinInterval,
		perMinute:   opts.MaxRequestsPerMinute,
		perHour:     opts.MaxRequestsPerHour,
		limiter:     rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		logger:      logger.With("component", "ratelimit"),
		now:         time.Now,
		sleep:       sleepCtx,
	}
	now := g.now()
	g.minuteReset = now.Add(time.Minute)
	g.hourReset = now.Add(time.Hour)
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait suspends the caller until it is safe to issue the next request.
// It fails only on context cancellation. On return the request is
// counted against both windows.
func (g *Governor) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		g.rollWindows()

		var wait time.Duration
		if g.hourCount >= g.perHour {
			wait = g.hourReset.Sub(g.now())
			g.logger.Warn("hour cap reached, waiting", "wait", wait, "cap", g.perHour)
		} else if g.minuteCount >= g.perMinute {
			wait = g.minuteReset.Sub(g.now())
			g.logger.Warn("minute cap reached, waiting", "wait", wait, "cap", g.perMinute)
		}
		g.mu.Unlock()

		if wait <= 0 {
			break
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.lastRequest = now
	g.minuteCount++
	g.hourCount++
	g.history = append(g.history, now)
	g.pruneHistory(now)
	return nil
}

// ObserveHeaders absorbs the upstream rate-limit headers. When the
// remaining quota runs low the minimum interval is raised; it is never
// lowered automatically.
func (g *Governor) ObserveHeaders(h http.Header) {
	remaining := h.Get("x-ratelimit-remaining")
	if remaining == "" {
		return
	}
	rem, err := strconv.ParseFloat(remaining, 64)
	if err != nil {
		return
	}
	if rem >= 10 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.minInterval < lowRemainingInterval {
		g.logger.Warn("low remaining quota, raising interval",
			"remaining", rem, "interval", lowRemainingInterval)
		g.setIntervalLocked(lowRemainingInterval)
	}
}

// OnTooManyRequests handles a 429: it doubles the minimum interval
// (floored at 5s) and sleeps for the server's retry-after hint,
// defaulting to 60s when the hint is absent or unparseable.
func (g *Governor) OnTooManyRequests(ctx context.Context, resp *http.Response) error {
	wait := defaultRetryAfter
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}

	g.mu.Lock()
	next := 2 * g.minInterval
	if next < backoffFloor {
		next = backoffFloor
	}
	g.setIntervalLocked(next)
	g.mu.Unlock()

	g.logger.Warn("rate limit exceeded (429), backing off", "wait", wait, "interval", next)
	return g.sleep(ctx, wait)
}

// Status returns a snapshot of the governor state.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindows()
	now := g.now()
	s := Status{
		MinuteRequests:       g.minuteCount,
		HourRequests:         g.hourCount,
		MaxRequestsPerMinute: g.perMinute,
		MaxRequestsPerHour:   g.perHour,
		MinInterval:          g.minInterval,
		TimeToMinuteReset:    max(0, g.minuteReset.Sub(now)),
		TimeToHourReset:      max(0, g.hourReset.Sub(now)),
	}
	if !g.lastRequest.IsZero() {
		s.TimeSinceLastRequest = now.Sub(g.lastRequest)
	}
	return s
}

// Stats summarizes the retained request history (last hour).
func (g *Governor) Stats() RequestStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.pruneHistory(now)

	st := RequestStats{RequestsLastHour: len(g.history)}
	minuteAgo := now.Add(-time.Minute)
	for _, ts := range g.history {
		if ts.After(minuteAgo) {
			st.RequestsLastMinute++
		}
	}
	if len(g.history) > 1 {
		span := g.history[len(g.history)-1].Sub(g.history[0])
		st.AverageInterval = span / time.Duration(len(g.history)-1)
	}
	return st
}

// setIntervalLocked updates the interval and the pacing limiter. Callers hold mu.
func (g *Governor) setIntervalLocked(d time.Duration) {
	g.minInterval = d
	g.limiter.SetLimit(rate.Every(d))
}

// rollWindows resets any elapsed counting window. Callers hold mu.
func (g *Governor) rollWindows() {
	now := g.now()
	if !now.Before(g.minuteReset) {
		g.minuteCount = 0
		g.minuteReset = now.Add(time.Minute)
	}
	if !now.Before(g.hourReset) {
		g.hourCount = 0
		g.hourReset = now.Add(time.Hour)
	}
}

// pruneHistory drops entries older than the history window. Callers hold mu.
func (g *Governor) pruneHistory(now time.Time) {
	cutoff := now.Add(-historyWindow)
	i := 0
	for i < len(g.history) && !g.history[i].After(cutoff) {
		i++
	}
	g.history = g.history[i:]
}
