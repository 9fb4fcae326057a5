// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/reddit-collector/internal/batch"
	"github.com/pdiddy/reddit-collector/internal/scheduler"
	"github.com/pdiddy/reddit-collector/pkg/types"
)

type fakeRunner struct {
	result  scheduler.Result
	runErr  error
	status  scheduler.SchedulerStatus
	gotOpts scheduler.RunOptions
	gotSrcs []types.SubredditConfig
}

func (f *fakeRunner) Run(_ context.Context, sources []types.SubredditConfig, opts scheduler.RunOptions) (scheduler.Result, error) {
	f.gotSrcs = sources
	f.gotOpts = opts
	return f.result, f.runErr
}

func (f *fakeRunner) Status() scheduler.SchedulerStatus { return f.status }

func (f *fakeRunner) Stop() bool { return false }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(runner *fakeRunner, probes map[string]Probe) *httptest.Server {
	sources := []types.SubredditConfig{{Name: "golang", IsActive: true}}
	srv := NewServer(runner, sources, probes, testLogger())
	return httptest.NewServer(srv.Handler())
}

func TestCollect(t *testing.T) {
	runner := &fakeRunner{result: scheduler.Result{
		BatchID: "batch-1",
		Status:  batch.BatchCompleted,
		Fetched: 40,
		Saved:   12,
	}}
	ts := newTestServer(runner, nil)
	defer ts.Close()

	body := strings.NewReader(`{"task_timeout_seconds": 30, "continue_on_error": false}`)
	resp, err := http.Post(ts.URL+"/collect", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got scheduler.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "batch-1", got.BatchID)
	assert.Equal(t, batch.BatchCompleted, got.Status)
	assert.Equal(t, 12, got.Saved)

	require.Len(t, runner.gotSrcs, 1)
	assert.Equal(t, "golang", runner.gotSrcs[0].Name)
	assert.Equal(t, 30*time.Second, runner.gotOpts.TaskTimeout)
	require.NotNil(t, runner.gotOpts.ContinueOnError)
	assert.False(t, *runner.gotOpts.ContinueOnError)
}

func TestCollect_EmptyBodyUsesDefaults(t *testing.T) {
	runner := &fakeRunner{result: scheduler.Result{BatchID: "batch-2"}}
	ts := newTestServer(runner, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/collect", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, runner.gotOpts.TaskTimeout)
	assert.Nil(t, runner.gotOpts.ContinueOnError)
}

func TestCollect_Conflict(t *testing.T) {
	runner := &fakeRunner{runErr: scheduler.ErrAlreadyRunning}
	ts := newTestServer(runner, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/collect", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Contains(t, got["error"], "already in progress")
}

func TestCollect_PreflightFailure(t *testing.T) {
	runner := &fakeRunner{runErr: errors.New("storage unreachable: disk full")}
	ts := newTestServer(runner, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/collect", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCollect_BadBody(t *testing.T) {
	ts := newTestServer(&fakeRunner{}, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/collect", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCollect_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(&fakeRunner{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/collect")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	runner := &fakeRunner{status: scheduler.SchedulerStatus{
		IsRunning:   true,
		LastBatchID: "batch-9",
	}}
	ts := newTestServer(runner, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got scheduler.SchedulerStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.IsRunning)
	assert.Equal(t, "batch-9", got.LastBatchID)
}

func TestHealthz(t *testing.T) {
	probes := map[string]Probe{
		"auth":    func(context.Context) error { return nil },
		"storage": func(context.Context) error { return nil },
	}
	ts := newTestServer(&fakeRunner{}, probes)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "ok", got.Checks["auth"])
	assert.Equal(t, "ok", got.Checks["storage"])
}

func TestHealthz_Degraded(t *testing.T) {
	probes := map[string]Probe{
		"auth":    func(context.Context) error { return nil },
		"storage": func(context.Context) error { return errors.New("database is locked") },
	}
	ts := newTestServer(&fakeRunner{}, probes)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, "ok", got.Checks["auth"])
	assert.Contains(t, got.Checks["storage"], "locked")
}
