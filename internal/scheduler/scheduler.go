// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scheduler orchestrates one collection run: preflight checks,
// quota allocation, batch construction, and the per-source
// fetch-process-persist pipeline. A run never propagates task failures;
// only preflight problems fail the run as a whole.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pdiddy/reddit-collector/internal/batch"
	"github.com/pdiddy/reddit-collector/internal/filter"
	"github.com/pdiddy/reddit-collector/internal/process"
	"github.com/pdiddy/reddit-collector/internal/quota"
	"github.com/pdiddy/reddit-collector/internal/reddit"
	"github.com/pdiddy/reddit-collector/pkg/types"
)

// ErrAlreadyRunning rejects a collection start while one is in flight.
var ErrAlreadyRunning = errors.New("collection run already in progress")

// Fetcher is the upstream listing surface the scheduler consumes.
type Fetcher interface {
	Listing(ctx context.Context, subreddit string, opts reddit.ListingOptions) ([]types.Post, error)
	ValidateConnection(ctx context.Context) error
}

// Processor turns raw posts into retained posts plus batch stats.
type Processor interface {
	AllWith(posts []types.Post, cfg filter.Config) ([]types.Post, process.Stats, error)
}

// Store is the persistence surface the scheduler consumes.
type Store interface {
	SavePosts(ctx context.Context, posts []types.Post) (int, error)
	SaveCollectionStats(ctx context.Context, st types.CollectionStats) error
	LogError(ctx context.Context, e types.ErrorLog) error
	TestConnection(ctx context.Context) error
}

// RunOptions tunes one collection run.
type RunOptions struct {
	// TaskTimeout bounds each per-source task (default 300s).
	TaskTimeout time.Duration
	// ContinueOnError keeps collecting after a source fails. Nil means true.
	ContinueOnError *bool
}

// SourceOutcome is one source's slice of the run result.
type SourceOutcome struct {
	Source    string          `json:"source"`
	State     batch.TaskState `json:"state"`
	Fetched   int             `json:"fetched"`
	Processed int             `json:"processed"`
	Saved     int             `json:"saved"`
	Error     string          `json:"error,omitempty"`
}

// Result is the structured outcome of one collection run.
type Result struct {
	BatchID string            `json:"batch_id"`
	Status  batch.BatchStatus `json:"status"`
	Started time.Time         `json:"started"`
	Ended   time.Time         `json:"ended"`
	Sources []SourceOutcome   `json:"sources"`
	Quota   quota.Summary     `json:"quota"`
	Errors  []string          `json:"errors,omitempty"`
	Fetched int               `json:"fetched"`
	Saved   int               `json:"saved"`
}

// SchedulerStatus is the live view for the status surfaces.
type SchedulerStatus struct {
	IsRunning   bool               `json:"is_running"`
	LastBatchID string             `json:"last_batch_id,omitempty"`
	LastRunAt   time.Time          `json:"last_run_at,omitempty"`
	Batches     batch.ManagerStats `json:"batches"`
	Quota       quota.Summary      `json:"quota"`
}

// Scheduler drives collection runs. One Scheduler owns its quota and
// batch managers; construct with New.
type Scheduler struct {
	fetcher   Fetcher
	processor Processor
	store     Store
	quota     *quota.Manager
	batches   *batch.Manager
	cfg       types.CollectorConfig
	logger    *slog.Logger

	mu          sync.Mutex
	running     bool
	cancelRun   context.CancelFunc
	lastBatchID string
	lastRunAt   time.Time

	now func() time.Time
}

// New wires a Scheduler from its collaborators.
func New(fetcher Fetcher, processor Processor, store Store, qm *quota.Manager, bm *batch.Manager, cfg types.CollectorConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fetcher:   fetcher,
		processor: processor,
		store:     store,
		quota:     qm,
		batches:   bm,
		cfg:       cfg.WithDefaults(),
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
}

// Run executes one collection over the given sources. A second call
// while one is in flight fails immediately with ErrAlreadyRunning.
// An error return is reserved for preflight failures; task failures
// surface through the Result instead.
func (s *Scheduler) Run(ctx context.Context, sources []types.SubredditConfig, opts RunOptions) (Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancelRun = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	started := s.now()
	active, err := s.preflight(runCtx, sources)
	if err != nil {
		return Result{}, err
	}

	allocations := s.quota.Allocate(active)
	specs := s.buildSpecs(active, allocations)
	if len(specs) == 0 {
		return Result{}, fmt.Errorf("no quota available for any active source")
	}

	batchID, err := s.batches.CreateBatch(specs)
	if err != nil {
		return Result{}, fmt.Errorf("creating batch: %w", err)
	}

	s.mu.Lock()
	s.lastBatchID = batchID
	s.lastRunAt = started
	s.mu.Unlock()

	s.logger.Info("collection run started",
		"batch_id", batchID, "sources", len(specs))

	bres, err := s.batches.ExecuteBatch(runCtx, batchID, s.executor(batchID, active), batch.ExecuteOptions{
		TaskTimeout:     opts.TaskTimeout,
		ContinueOnError: opts.ContinueOnError,
	})
	if err != nil {
		return Result{}, fmt.Errorf("executing batch %s: %w", batchID, err)
	}

	result := s.buildResult(batchID, started, bres)
	s.logger.Info("collection run finished",
		"batch_id", batchID, "status", result.Status,
		"fetched", result.Fetched, "saved", result.Saved, "errors", len(result.Errors))
	return result, nil
}

// Stop cancels the in-flight run cooperatively. Pending tasks are
// abandoned; the running task unwinds at its next context check.
// Returns false when nothing is running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cancelRun == nil {
		return false
	}
	s.cancelRun()
	s.logger.Info("collection run stop requested")
	return true
}

// Status reports the live scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	running := s.running
	lastID := s.lastBatchID
	lastAt := s.lastRunAt
	s.mu.Unlock()

	return SchedulerStatus{
		IsRunning:   running,
		LastBatchID: lastID,
		LastRunAt:   lastAt,
		Batches:     s.batches.Stats(),
		Quota:       s.quota.Summary(),
	}
}

// Report returns the stored batch state for a past run.
func (s *Scheduler) Report(batchID string) (batch.Status, batch.PerformanceStats, bool) {
	st, ok := s.batches.Status(batchID)
	if !ok {
		return batch.Status{}, batch.PerformanceStats{}, false
	}
	perf, _ := s.batches.Performance(batchID)
	return st, perf, true
}

// Cleanup purges finished batches older than the cutoff.
func (s *Scheduler) Cleanup(olderThan time.Duration) []string {
	return s.batches.CleanupCompleted(olderThan)
}

// preflight validates the run's dependencies: credentials, storage,
// and at least one active source.
func (s *Scheduler) preflight(ctx context.Context, sources []types.SubredditConfig) ([]types.SubredditConfig, error) {
	if err := s.fetcher.ValidateConnection(ctx); err != nil {
		return nil, fmt.Errorf("auth validation failed: %w", err)
	}
	if err := s.store.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("storage unreachable: %w", err)
	}

	var active []types.SubredditConfig
	for _, src := range sources {
		if src.IsActive {
			active = append(active, src)
		}
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("no active sources configured")
	}
	return active, nil
}

// buildSpecs turns allocations into batch tasks, ordered by ascending
// priority. The fetch limit is the smaller of the quota slice and the
// per-request cap.
func (s *Scheduler) buildSpecs(sources []types.SubredditConfig, allocations map[string]int) []batch.TaskSpec {
	ordered := make([]types.SubredditConfig, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var specs []batch.TaskSpec
	for _, src := range ordered {
		alloc, ok := allocations[src.Name]
		if !ok || alloc <= 0 {
			continue
		}
		perRequest := src.MaxPostsPerRequest
		if perRequest <= 0 {
			perRequest = s.cfg.MaxPostsPerRequest
		}
		specs = append(specs, batch.TaskSpec{
			Source:     src.Name,
			Priority:   src.Priority,
			Quota:      alloc,
			FetchLimit: min(alloc, perRequest),
		})
	}
	return specs
}

// executor returns the per-task pipeline: fetch, process, persist,
// debit quota, record stats. Task errors are returned to the batch
// manager for isolation, with an ErrorLog entry on the side.
func (s *Scheduler) executor(batchID string, sources []types.SubredditConfig) batch.Executor {
	cfgBySource := make(map[string]types.SubredditConfig, len(sources))
	for _, src := range sources {
		cfgBySource[src.Name] = src
	}

	return func(ctx context.Context, spec batch.TaskSpec) (batch.TaskResult, error) {
		start := s.now()

		posts, err := s.fetcher.Listing(ctx, spec.Source, reddit.ListingOptions{
			Limit: spec.FetchLimit,
		})
		if err != nil {
			s.recordFailure(ctx, batchID, spec.Source, "fetch_error", start, err)
			return batch.TaskResult{}, fmt.Errorf("fetching %s: %w", spec.Source, err)
		}

		retained, _, err := s.processor.AllWith(posts, s.filterConfig(cfgBySource[spec.Source]))
		if err != nil {
			s.recordFailure(ctx, batchID, spec.Source, "processing_error", start, err)
			return batch.TaskResult{}, fmt.Errorf("processing %s: %w", spec.Source, err)
		}

		for i := range retained {
			retained[i].BatchID = batchID
		}
		saved, err := s.store.SavePosts(ctx, retained)
		if err != nil {
			s.recordFailure(ctx, batchID, spec.Source, "storage_error", start, err)
			return batch.TaskResult{}, fmt.Errorf("saving %s: %w", spec.Source, err)
		}

		if saved > 0 && !s.quota.Use(spec.Source, saved) {
			s.logger.Warn("quota debit rejected after save",
				"source", spec.Source, "saved", saved)
		}

		end := s.now()
		stat := types.CollectionStats{
			CollectionDate: end.UTC().Format("2006-01-02"),
			BatchID:        batchID,
			Subreddit:      spec.Source,
			TotalFetched:   len(posts),
			TotalFiltered:  len(posts) - saved,
			TotalSaved:     saved,
			StartTime:      start.Unix(),
			EndTime:        end.Unix(),
			Duration:       int64(end.Sub(start).Seconds()),
			Status:         "completed",
		}
		if err := s.store.SaveCollectionStats(ctx, stat); err != nil {
			s.logger.Error("recording collection stats failed",
				"source", spec.Source, "error", err)
		}

		return batch.TaskResult{
			Fetched:   len(posts),
			Processed: len(retained),
			Saved:     saved,
		}, nil
	}
}

// filterConfig maps a source's threshold overrides onto the quality
// filter config; zero fields fall back to defaults.
func (s *Scheduler) filterConfig(src types.SubredditConfig) filter.Config {
	return filter.Config{
		MinScore:       src.MinScore,
		MinComments:    src.MinComments,
		MinUpvoteRatio: src.MinUpvoteRatio,
	}
}

// recordFailure writes a failed stats row and an error event. Both are
// best-effort; a broken store must not mask the original error.
func (s *Scheduler) recordFailure(ctx context.Context, batchID, source, errType string, start time.Time, cause error) {
	end := s.now()
	stat := types.CollectionStats{
		CollectionDate: end.UTC().Format("2006-01-02"),
		BatchID:        batchID,
		Subreddit:      source,
		StartTime:      start.Unix(),
		EndTime:        end.Unix(),
		Duration:       int64(end.Sub(start).Seconds()),
		Status:         "failed",
		ErrorMessage:   cause.Error(),
	}
	if err := s.store.SaveCollectionStats(ctx, stat); err != nil {
		s.logger.Error("recording failed-task stats failed", "source", source, "error", err)
	}
	if err := s.store.LogError(ctx, types.ErrorLog{
		ErrorType:    errType,
		ErrorMessage: cause.Error(),
		Subreddit:    source,
		BatchID:      batchID,
		Severity:     "error",
	}); err != nil {
		s.logger.Error("recording error event failed", "source", source, "error", err)
	}
}

func (s *Scheduler) buildResult(batchID string, started time.Time, bres batch.Result) Result {
	result := Result{
		BatchID: batchID,
		Status:  bres.Status,
		Started: started,
		Ended:   s.now(),
		Quota:   s.quota.Summary(),
	}
	for _, t := range bres.Tasks {
		out := SourceOutcome{Source: t.Source, State: t.State, Error: t.Error}
		if t.Result != nil {
			out.Fetched = t.Result.Fetched
			out.Processed = t.Result.Processed
			out.Saved = t.Result.Saved
			result.Fetched += t.Result.Fetched
			result.Saved += t.Result.Saved
		}
		if t.Error != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", t.Source, t.Error))
		}
		result.Sources = append(result.Sources, out)
	}
	return result
}
