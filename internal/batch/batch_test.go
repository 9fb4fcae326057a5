// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func specs(names ...string) []TaskSpec {
	out := make([]TaskSpec, len(names))
	for i, n := range names {
		out[i] = TaskSpec{Source: n, Priority: i + 1, Quota: 50, FetchLimit: 25}
	}
	return out
}

func okExecutor(ctx context.Context, spec TaskSpec) (TaskResult, error) {
	return TaskResult{Fetched: 10, Processed: 8, Saved: 8}, nil
}

func TestCreateBatch(t *testing.T) {
	m := newTestManager(t)
	id, err := m.CreateBatch(specs("a", "b"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	st, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, BatchPending, st.Status)
	require.Len(t, st.Tasks, 2)
	assert.Equal(t, TaskPending, st.Tasks[0].State)
	assert.Equal(t, "a", st.Tasks[0].Source)

	_, err = m.CreateBatch(nil)
	assert.Error(t, err)
}

func TestExecuteBatch_AllSucceed(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("a", "b"))

	var order []string
	res, err := m.ExecuteBatch(context.Background(), id, func(ctx context.Context, spec TaskSpec) (TaskResult, error) {
		order = append(order, spec.Source)
		return TaskResult{Fetched: 5, Saved: 5}, nil
	}, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, BatchCompleted, res.Status)
	assert.Equal(t, 2, res.Completed)
	assert.Zero(t, res.Failed)
	assert.Equal(t, []string{"a", "b"}, order, "tasks run sequentially in order")
	require.NotNil(t, res.Tasks[0].Result)
	assert.Equal(t, 5, res.Tasks[0].Result.Saved)
}

func TestExecuteBatch_FailureIsolation(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("a", "b", "c"))

	res, err := m.ExecuteBatch(context.Background(), id, func(ctx context.Context, spec TaskSpec) (TaskResult, error) {
		if spec.Source == "b" {
			return TaskResult{}, fmt.Errorf("upstream exploded")
		}
		return TaskResult{Fetched: 5, Saved: 5}, nil
	}, ExecuteOptions{})
	require.NoError(t, err, "a task failure is a result, not an execution error")

	assert.Equal(t, BatchPartial, res.Status)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, TaskFailed, res.Tasks[1].State)
	assert.Contains(t, res.Tasks[1].Error, "upstream exploded")
	assert.Equal(t, TaskCompleted, res.Tasks[2].State, "later tasks still run")
}

func TestExecuteBatch_HaltOnError(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("a", "b", "c"))

	no := false
	res, err := m.ExecuteBatch(context.Background(), id, func(ctx context.Context, spec TaskSpec) (TaskResult, error) {
		if spec.Source == "a" {
			return TaskResult{}, fmt.Errorf("boom")
		}
		return TaskResult{}, nil
	}, ExecuteOptions{ContinueOnError: &no})
	require.NoError(t, err)

	assert.Equal(t, BatchFailed, res.Status, "no task completed")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Cancelled)
	assert.Equal(t, TaskCancelled, res.Tasks[1].State)
}

func TestExecuteBatch_AllFail(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("a", "b"))

	res, err := m.ExecuteBatch(context.Background(), id, func(ctx context.Context, spec TaskSpec) (TaskResult, error) {
		return TaskResult{}, fmt.Errorf("down")
	}, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, BatchFailed, res.Status)
}

func TestExecuteBatch_TaskTimeout(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("slow", "fast"))

	res, err := m.ExecuteBatch(context.Background(), id, func(ctx context.Context, spec TaskSpec) (TaskResult, error) {
		if spec.Source == "slow" {
			select {
			case <-ctx.Done():
				return TaskResult{}, ctx.Err()
			case <-time.After(5 * time.Second):
				return TaskResult{}, nil
			}
		}
		return TaskResult{Saved: 1}, nil
	}, ExecuteOptions{TaskTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, BatchPartial, res.Status)
	assert.Equal(t, TaskFailed, res.Tasks[0].State)
	assert.Contains(t, res.Tasks[0].Error, "timed out")
	assert.Equal(t, TaskCompleted, res.Tasks[1].State, "batch proceeds past a wedged task")
}

func TestExecuteBatch_Guards(t *testing.T) {
	m := newTestManager(t)
	_, err := m.ExecuteBatch(context.Background(), "nope", okExecutor, ExecuteOptions{})
	assert.Error(t, err)

	id, _ := m.CreateBatch(specs("a"))
	_, err = m.ExecuteBatch(context.Background(), id, okExecutor, ExecuteOptions{})
	require.NoError(t, err)
	_, err = m.ExecuteBatch(context.Background(), id, okExecutor, ExecuteOptions{})
	assert.Error(t, err, "a batch executes once")
}

func TestExecuteBatch_ContextCancelled(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("a", "b", "c"))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res, err := m.ExecuteBatch(ctx, id, func(ctx context.Context, spec TaskSpec) (TaskResult, error) {
		calls++
		cancel()
		return TaskResult{Saved: 1}, nil
	}, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "cancellation stops dispatching new tasks")
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 2, res.Cancelled)
}

func TestCancel(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("a", "b"))

	require.True(t, m.Cancel(id))
	st, _ := m.Status(id)
	assert.Equal(t, BatchCancelled, st.Status)
	assert.Equal(t, TaskCancelled, st.Tasks[0].State)

	assert.False(t, m.Cancel("nope"))
}

func TestPerformance(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("a", "b"))

	_, err := m.ExecuteBatch(context.Background(), id, func(ctx context.Context, spec TaskSpec) (TaskResult, error) {
		time.Sleep(10 * time.Millisecond)
		if spec.Source == "b" {
			return TaskResult{}, fmt.Errorf("bad")
		}
		return TaskResult{}, nil
	}, ExecuteOptions{})
	require.NoError(t, err)

	p, ok := m.Performance(id)
	require.True(t, ok)
	assert.Equal(t, 2, p.TaskCount)
	assert.GreaterOrEqual(t, p.MeanTaskDuration, 10*time.Millisecond)
	assert.GreaterOrEqual(t, p.TotalDuration, 20*time.Millisecond)
	assert.Greater(t, p.TasksPerMinute, 0.0)
	assert.InDelta(t, 0.5, p.SuccessRate, 1e-9)
	assert.InDelta(t, 0.5, p.ErrorRate, 1e-9)

	_, ok = m.Performance("nope")
	assert.False(t, ok)
}

func TestCleanupCompleted(t *testing.T) {
	m := newTestManager(t)

	oldID, _ := m.CreateBatch(specs("a"))
	_, err := m.ExecuteBatch(context.Background(), oldID, okExecutor, ExecuteOptions{})
	require.NoError(t, err)

	activeID, _ := m.CreateBatch(specs("b"))

	// push the finished batch beyond the cutoff
	m.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	purged := m.CleanupCompleted(24 * time.Hour)
	assert.Equal(t, []string{oldID}, purged)

	_, ok := m.Status(oldID)
	assert.False(t, ok)
	_, ok = m.Status(activeID)
	assert.True(t, ok, "pending batches are never purged")
}

func TestCleanupCompleted_RecentSurvives(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateBatch(specs("a"))
	_, err := m.ExecuteBatch(context.Background(), id, okExecutor, ExecuteOptions{})
	require.NoError(t, err)

	assert.Empty(t, m.CleanupCompleted(24*time.Hour))
	_, ok := m.Status(id)
	assert.True(t, ok)
}

func TestManagerStats(t *testing.T) {
	m := newTestManager(t)
	doneID, _ := m.CreateBatch(specs("a"))
	_, err := m.ExecuteBatch(context.Background(), doneID, okExecutor, ExecuteOptions{})
	require.NoError(t, err)
	m.CreateBatch(specs("b"))

	s := m.Stats()
	assert.Equal(t, 1, s.Active)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 2, s.Total)
}

func TestAggregateStatus(t *testing.T) {
	mk := func(states ...TaskState) []*Task {
		out := make([]*Task, len(states))
		for i, s := range states {
			out[i] = &Task{State: s}
		}
		return out
	}
	assert.Equal(t, BatchCompleted, aggregateStatus(mk(TaskCompleted, TaskCompleted)))
	assert.Equal(t, BatchCompleted, aggregateStatus(mk(TaskCompleted, TaskCancelled)))
	assert.Equal(t, BatchPartial, aggregateStatus(mk(TaskCompleted, TaskFailed)))
	assert.Equal(t, BatchFailed, aggregateStatus(mk(TaskFailed, TaskFailed)))
	assert.Equal(t, BatchCancelled, aggregateStatus(mk(TaskCancelled, TaskCancelled)))
}
