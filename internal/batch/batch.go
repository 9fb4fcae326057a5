// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch executes ordered sets of per-source tasks. Tasks run
// strictly sequentially: the upstream rate budget is shared, so a batch
// is modeled as a single-flight resource. Failure isolation, per-task
// timeouts, and status reporting live here; the work itself is supplied
// by the caller as an Executor.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTaskTimeout bounds one task's execution.
const DefaultTaskTimeout = 300 * time.Second

// TaskState is the lifecycle position of one task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// BatchStatus aggregates task outcomes.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// TaskSpec describes one unit of work before execution.
type TaskSpec struct {
	Source   string `json:"source"`
	Priority int    `json:"priority"`
	// Quota is the item budget granted to this task.
	Quota int `json:"quota"`
	// FetchLimit caps one upstream request for this task.
	FetchLimit int `json:"fetch_limit"`
}

// TaskResult is the executor's success payload.
type TaskResult struct {
	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`
	Saved     int `json:"saved"`
}

// Task is one executing unit inside a batch. Fields are snapshots;
// mutation happens only under the manager lock.
type Task struct {
	Source     string      `json:"source"`
	Priority   int         `json:"priority"`
	Quota      int         `json:"quota"`
	FetchLimit int         `json:"fetch_limit"`
	State      TaskState   `json:"state"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
	Result     *TaskResult `json:"result,omitempty"`
}

// Duration is the task's wall time, zero until it finishes.
func (t Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

type batch struct {
	id        string
	tasks     []*Task
	status    BatchStatus
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
}

// Executor performs the work for one task. It must honor ctx: the
// per-task timeout cancels it, and already-running work is never
// forcibly interrupted beyond that.
type Executor func(ctx context.Context, spec TaskSpec) (TaskResult, error)

// ExecuteOptions tunes one ExecuteBatch call.
type ExecuteOptions struct {
	// TaskTimeout bounds each task (default 300s).
	TaskTimeout time.Duration
	// ContinueOnError keeps executing later tasks after a failure.
	// Nil means true.
	ContinueOnError *bool
}

// Status is one batch's externally visible state.
type Status struct {
	ID        string      `json:"id"`
	Status    BatchStatus `json:"status"`
	Tasks     []Task      `json:"tasks"`
	CreatedAt time.Time   `json:"created_at"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`
}

// Result summarizes one executed batch.
type Result struct {
	ID        string      `json:"id"`
	Status    BatchStatus `json:"status"`
	Completed int         `json:"completed"`
	Failed    int         `json:"failed"`
	Cancelled int         `json:"cancelled"`
	Tasks     []Task      `json:"tasks"`
	Duration  time.Duration `json:"duration"`
}

// PerformanceStats derives timing metrics from task timestamps.
type PerformanceStats struct {
	TaskCount        int           `json:"task_count"`
	MeanTaskDuration time.Duration `json:"mean_task_duration"`
	TotalDuration    time.Duration `json:"total_duration"`
	// TasksPerMinute is the throughput over the batch wall time.
	TasksPerMinute float64 `json:"tasks_per_minute"`
	SuccessRate    float64 `json:"success_rate"`
	ErrorRate      float64 `json:"error_rate"`
}

// ManagerStats counts batches held by the manager.
type ManagerStats struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Manager owns batches from creation to cleanup. Batches are kept in
// memory until CleanupCompleted purges them.
type Manager struct {
	mu      sync.Mutex
	batches map[string]*batch
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager returns an empty batch Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		batches: map[string]*batch{},
		logger:  logger.With("component", "batch"),
		now:     time.Now,
	}
}

// CreateBatch registers a new batch over the given specs and returns
// its id.
func (m *Manager) CreateBatch(specs []TaskSpec) (string, error) {
	if len(specs) == 0 {
		return "", fmt.Errorf("batch needs at least one task")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	b := &batch{
		id:        id,
		status:    BatchPending,
		createdAt: m.now(),
		tasks:     make([]*Task, len(specs)),
	}
	for i, spec := range specs {
		b.tasks[i] = &Task{
			Source:     spec.Source,
			Priority:   spec.Priority,
			Quota:      spec.Quota,
			FetchLimit: spec.FetchLimit,
			State:      TaskPending,
		}
	}
	m.batches[id] = b

	m.logger.Info("batch created", "batch_id", id, "tasks", len(specs))
	return id, nil
}

// ExecuteBatch runs the batch's tasks in order. Each task gets a
// timeout; a timed-out or failed task is marked failed and, with
// ContinueOnError (the default), execution proceeds to the next task.
func (m *Manager) ExecuteBatch(ctx context.Context, id string, exec Executor, opts ExecuteOptions) (Result, error) {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	continueOnError := true
	if opts.ContinueOnError != nil {
		continueOnError = *opts.ContinueOnError
	}

	m.mu.Lock()
	b, ok := m.batches[id]
	if !ok {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("unknown batch %s", id)
	}
	if b.status != BatchPending {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("batch %s already %s", id, b.status)
	}
	b.status = BatchRunning
	b.startedAt = m.now()
	tasks := b.tasks
	m.mu.Unlock()

	m.logger.Info("batch execution started",
		"batch_id", id, "tasks", len(tasks), "task_timeout", opts.TaskTimeout)

	halted := false
	for i, task := range tasks {
		if halted || ctx.Err() != nil {
			m.setTaskState(task, TaskCancelled, "", nil)
			continue
		}

		m.setTaskState(task, TaskRunning, "", nil)
		res, err := m.runTask(ctx, task, exec, opts.TaskTimeout)
		if err != nil {
			m.setTaskState(task, TaskFailed, err.Error(), nil)
			m.logger.Error("task failed",
				"batch_id", id, "source", task.Source, "task", i+1, "error", err)
			if !continueOnError {
				halted = true
			}
			continue
		}
		m.setTaskState(task, TaskCompleted, "", &res)
		m.logger.Info("task completed", "batch_id", id, "source", task.Source,
			"fetched", res.Fetched, "saved", res.Saved)
	}

	m.mu.Lock()
	b.endedAt = m.now()
	b.status = aggregateStatus(b.tasks)
	result := m.resultLocked(b)
	m.mu.Unlock()

	m.logger.Info("batch execution finished", "batch_id", id,
		"status", result.Status, "completed", result.Completed,
		"failed", result.Failed, "duration", result.Duration)
	return result, nil
}

// runTask executes one task with a timeout. The executor runs in its
// own goroutine so a wedged task cannot stall the batch past the
// timeout; its context is cancelled at that point and the goroutine is
// left to unwind cooperatively.
func (m *Manager) runTask(ctx context.Context, task *Task, exec Executor, timeout time.Duration) (TaskResult, error) {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spec := TaskSpec{
		Source:     task.Source,
		Priority:   task.Priority,
		Quota:      task.Quota,
		FetchLimit: task.FetchLimit,
	}

	type outcome struct {
		res TaskResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := exec(taskCtx, spec)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-taskCtx.Done():
		if ctx.Err() != nil {
			return TaskResult{}, ctx.Err()
		}
		return TaskResult{}, fmt.Errorf("task timed out after %s", timeout)
	}
}

// Cancel marks all still-pending tasks cancelled. Running work is not
// interrupted; it completes or times out on its own. Returns false for
// unknown batches.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return false
	}
	for _, t := range b.tasks {
		if t.State == TaskPending {
			t.State = TaskCancelled
			t.FinishedAt = m.now()
		}
	}
	if b.status == BatchPending {
		b.status = BatchCancelled
		b.endedAt = m.now()
	}
	m.logger.Info("batch cancelled", "batch_id", id)
	return true
}

// Status returns the batch's current state, with task snapshots.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return Status{}, false
	}
	return Status{
		ID:        b.id,
		Status:    b.status,
		Tasks:     snapshotTasks(b.tasks),
		CreatedAt: b.createdAt,
		StartedAt: b.startedAt,
		EndedAt:   b.endedAt,
	}, true
}

// Performance derives timing stats from the batch's task timestamps.
func (m *Manager) Performance(id string) (PerformanceStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return PerformanceStats{}, false
	}

	stats := PerformanceStats{TaskCount: len(b.tasks)}
	var totalTask time.Duration
	finished, completed := 0, 0
	for _, t := range b.tasks {
		if d := t.Duration(); d > 0 {
			totalTask += d
			finished++
		}
		switch t.State {
		case TaskCompleted:
			completed++
		}
	}
	if finished > 0 {
		stats.MeanTaskDuration = totalTask / time.Duration(finished)
	}
	if !b.startedAt.IsZero() && !b.endedAt.IsZero() {
		stats.TotalDuration = b.endedAt.Sub(b.startedAt)
		if mins := stats.TotalDuration.Minutes(); mins > 0 {
			stats.TasksPerMinute = math.Round(float64(len(b.tasks))/mins*100) / 100
		}
	}
	if n := len(b.tasks); n > 0 {
		failed := 0
		for _, t := range b.tasks {
			if t.State == TaskFailed {
				failed++
			}
		}
		stats.SuccessRate = math.Round(float64(completed)/float64(n)*1000) / 1000
		stats.ErrorRate = math.Round(float64(failed)/float64(n)*1000) / 1000
	}
	return stats, true
}

// CleanupCompleted purges batches whose every task reached a terminal
// state and whose most recent task completion predates the cutoff.
// Active batches are never purged. Returns the purged batch ids.
func (m *Manager) CleanupCompleted(olderThan time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	var purged []string
	for id, b := range m.batches {
		if !terminal(b) {
			continue
		}
		latest := b.endedAt
		for _, t := range b.tasks {
			if t.FinishedAt.After(latest) {
				latest = t.FinishedAt
			}
		}
		if latest.IsZero() || latest.After(cutoff) {
			continue
		}
		delete(m.batches, id)
		purged = append(purged, id)
	}
	sort.Strings(purged)

	if len(purged) > 0 {
		m.logger.Info("completed batches purged", "count", len(purged))
	}
	return purged
}

// Stats counts batches held by the manager.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := ManagerStats{Total: len(m.batches)}
	for _, b := range m.batches {
		if terminal(b) {
			s.Completed++
		} else {
			s.Active++
		}
	}
	return s
}

func (m *Manager) setTaskState(t *Task, state TaskState, errMsg string, res *TaskResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.State = state
	switch state {
	case TaskRunning:
		t.StartedAt = m.now()
	case TaskCompleted, TaskFailed, TaskCancelled:
		t.FinishedAt = m.now()
	}
	t.Error = errMsg
	t.Result = res
}

func (m *Manager) resultLocked(b *batch) Result {
	r := Result{
		ID:       b.id,
		Status:   b.status,
		Tasks:    snapshotTasks(b.tasks),
		Duration: b.endedAt.Sub(b.startedAt),
	}
	for _, t := range b.tasks {
		switch t.State {
		case TaskCompleted:
			r.Completed++
		case TaskFailed:
			r.Failed++
		case TaskCancelled:
			r.Cancelled++
		}
	}
	return r
}

// aggregateStatus applies the batch status law: no failures means
// completed, no completions with failures means failed, anything mixed
// is partial.
func aggregateStatus(tasks []*Task) BatchStatus {
	completed, failed := 0, 0
	for _, t := range tasks {
		switch t.State {
		case TaskCompleted:
			completed++
		case TaskFailed:
			failed++
		}
	}
	switch {
	case failed == 0 && completed > 0:
		return BatchCompleted
	case failed == 0:
		return BatchCancelled
	case completed == 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}

func terminal(b *batch) bool {
	for _, t := range b.tasks {
		switch t.State {
		case TaskPending, TaskRunning:
			return false
		}
	}
	return true
}

func snapshotTasks(tasks []*Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = *t
	}
	return out
}
