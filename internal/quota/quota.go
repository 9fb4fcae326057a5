// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package quota allocates a shared daily collection budget across
// sources by priority and tracks consumption. Counters are scoped to
// one calendar day and reset lazily when the date rolls over.
package quota

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pdiddy/reddit-collector/pkg/types"
)

// Redistribution eligibility thresholds.
const (
	redistributeMinUtilization = 0.8
	redistributeMaxRemaining   = 50
)

// Health bucket boundaries on overall utilization.
const (
	warningUtilization  = 0.8
	criticalUtilization = 0.95
)

const dateLayout = "2006-01-02"

// allocation tracks one source's slice of the daily budget.
type allocation struct {
	allocated int
	used      int
}

// SourceUsage reports one source's consumption for diagnostics.
type SourceUsage struct {
	Source      string  `json:"source"`
	Allocated   int     `json:"allocated"`
	Used        int     `json:"used"`
	Remaining   int     `json:"remaining"`
	Utilization float64 `json:"utilization"`
}

// Summary is the manager-level status snapshot.
type Summary struct {
	Date       string  `json:"date"`
	DailyLimit int     `json:"daily_limit"`
	Used       int     `json:"used"`
	Remaining  int     `json:"remaining"`
	Sources    int     `json:"sources"`
	// Health is healthy, warning, or critical.
	Health string `json:"health"`
}

// Prediction projects end-of-day usage from the rate so far.
type Prediction struct {
	ProjectedUsage int  `json:"projected_usage"`
	WillExhaust    bool `json:"will_exhaust"`
}

// Forecast estimates whether a planned fetch run fits a source's
// remaining slice.
type Forecast struct {
	EstimatedConsumption int    `json:"estimated_consumption"`
	CanComplete          bool   `json:"can_complete"`
	MaxPossibleRequests  int    `json:"max_possible_requests"`
	Recommendation       string `json:"recommendation"`
}

// Manager owns the daily budget. All methods roll the date forward
// before acting, so an instance can live across midnight.
type Manager struct {
	mu sync.Mutex

	dailyLimit int
	usedTotal  int
	date       string
	alloc      map[string]*allocation

	logger *slog.Logger
	now    func() time.Time
}

// NewManager returns a Manager with the given daily ceiling.
func NewManager(dailyLimit int, logger *slog.Logger) *Manager {
	if dailyLimit <= 0 {
		dailyLimit = types.DefaultDailyLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		dailyLimit: dailyLimit,
		alloc:      map[string]*allocation{},
		logger:     logger.With("component", "quota"),
		now:        time.Now,
	}
	m.date = m.now().UTC().Format(dateLayout)
	return m
}

// Allocate distributes the daily budget across sources in ascending
// priority order. Each source receives min(requested, remaining
// ceiling); sources receiving zero are omitted from the result.
// Allocation replaces any prior allocation for the day; used counters
// for surviving sources are preserved.
func (m *Manager) Allocate(sources []types.SubredditConfig) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	ordered := make([]types.SubredditConfig, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	next := make(map[string]*allocation, len(ordered))
	result := make(map[string]int, len(ordered))
	total := 0
	for _, src := range ordered {
		remaining := m.dailyLimit - total
		if remaining <= 0 {
			m.logger.Warn("daily ceiling exhausted, source unallocated",
				"source", src.Name, "priority", src.Priority)
			continue
		}
		grant := min(src.DailyQuota, remaining)
		if grant <= 0 {
			m.logger.Warn("source requested nothing, omitted", "source", src.Name)
			continue
		}

		a := &allocation{allocated: grant}
		if prev, ok := m.alloc[src.Name]; ok {
			a.used = prev.used
		}
		next[src.Name] = a
		result[src.Name] = grant
		total += grant
	}
	m.alloc = next

	m.logger.Info("daily quota allocated",
		"date", m.date, "sources", len(result), "allocated", total, "limit", m.dailyLimit)
	return result
}

// Use debits amount from the source's slice and the global budget.
// It fails without mutation when the amount exceeds either the slice
// or the global remainder.
func (m *Manager) Use(source string, amount int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	if amount <= 0 {
		return amount == 0
	}
	a, ok := m.alloc[source]
	if !ok {
		m.logger.Warn("usage against unallocated source rejected", "source", source)
		return false
	}
	if a.used+amount > a.allocated {
		m.logger.Warn("usage exceeds source allocation",
			"source", source, "requested", amount, "remaining", a.allocated-a.used)
		return false
	}
	if m.usedTotal+amount > m.dailyLimit {
		m.logger.Warn("usage exceeds daily limit",
			"source", source, "requested", amount, "remaining", m.dailyLimit-m.usedTotal)
		return false
	}

	a.used += amount
	m.usedTotal += amount
	return true
}

// Remaining returns the source's unused slice, or the global unused
// budget when source is empty. Unknown sources have zero remaining.
func (m *Manager) Remaining(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	if source == "" {
		return m.dailyLimit - m.usedTotal
	}
	a, ok := m.alloc[source]
	if !ok {
		return 0
	}
	return a.allocated - a.used
}

// RedistributeUnused moves the globally unallocated budget to sources
// running hot: at or above 80% utilization with under 50 units left.
// Allocations only grow; no source loses budget. Returns the total
// redistributed and the beneficiaries.
func (m *Manager) RedistributeUnused() (int, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	allocated := 0
	for _, a := range m.alloc {
		allocated += a.allocated
	}
	leftover := m.dailyLimit - allocated
	if leftover <= 0 {
		return 0, nil
	}

	var hot []string
	for name, a := range m.alloc {
		if a.allocated == 0 {
			continue
		}
		util := float64(a.used) / float64(a.allocated)
		if util >= redistributeMinUtilization && a.allocated-a.used < redistributeMaxRemaining {
			hot = append(hot, name)
		}
	}
	if len(hot) == 0 {
		return 0, nil
	}
	sort.Strings(hot)

	share := leftover / len(hot)
	if share == 0 {
		return 0, nil
	}
	for _, name := range hot {
		m.alloc[name].allocated += share
	}
	moved := share * len(hot)

	m.logger.Info("unused quota redistributed",
		"moved", moved, "beneficiaries", hot, "per_source", share)
	return moved, hot
}

// Usage reports per-source consumption, sorted by source name.
func (m *Manager) Usage() []SourceUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	out := make([]SourceUsage, 0, len(m.alloc))
	for name, a := range m.alloc {
		u := SourceUsage{
			Source:    name,
			Allocated: a.allocated,
			Used:      a.used,
			Remaining: a.allocated - a.used,
		}
		if a.allocated > 0 {
			u.Utilization = math.Round(float64(a.used)/float64(a.allocated)*1000) / 1000
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Summary returns the manager-level snapshot with a health bucket.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	util := float64(m.usedTotal) / float64(m.dailyLimit)
	health := "healthy"
	switch {
	case util >= criticalUtilization:
		health = "critical"
	case util >= warningUtilization:
		health = "warning"
	}
	return Summary{
		Date:       m.date,
		DailyLimit: m.dailyLimit,
		Used:       m.usedTotal,
		Remaining:  m.dailyLimit - m.usedTotal,
		Sources:    len(m.alloc),
		Health:     health,
	}
}

// Predict projects end-of-day usage linearly from the consumption rate
// so far today.
func (m *Manager) Predict() Prediction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	now := m.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	elapsed := now.Sub(dayStart)
	if elapsed < time.Minute || m.usedTotal == 0 {
		return Prediction{ProjectedUsage: m.usedTotal}
	}

	rate := float64(m.usedTotal) / elapsed.Hours()
	projected := int(math.Round(rate * 24))
	return Prediction{
		ProjectedUsage: projected,
		WillExhaust:    projected >= m.dailyLimit,
	}
}

// PredictConsumption estimates what a planned run of requests against
// one source would consume and whether the source's remaining slice
// covers it. perRequest is the expected posts per request.
func (m *Manager) PredictConsumption(source string, perRequest, requests int) Forecast {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	available := 0
	if a, ok := m.alloc[source]; ok {
		available = a.allocated - a.used
	}
	if perRequest < 1 {
		perRequest = 1
	}

	f := Forecast{
		EstimatedConsumption: perRequest * requests,
		MaxPossibleRequests:  available / perRequest,
	}
	f.CanComplete = f.EstimatedConsumption <= available

	switch {
	case available <= 0:
		f.Recommendation = "no quota available, skip this source"
	case f.CanComplete:
		f.Recommendation = "proceed with planned requests"
	default:
		f.Recommendation = fmt.Sprintf(
			"reduce requests to %d to stay within quota", f.MaxPossibleRequests)
	}
	return f
}

// rolloverLocked resets the daily counters when the calendar day has
// advanced. Per-source allocations survive; only used counters clear.
// Callers hold mu.
func (m *Manager) rolloverLocked() {
	today := m.now().UTC().Format(dateLayout)
	if today == m.date {
		return
	}
	m.logger.Info("quota date rollover", "from", m.date, "to", today, "used", m.usedTotal)
	m.date = today
	m.usedTotal = 0
	for _, a := range m.alloc {
		a.used = 0
	}
}
