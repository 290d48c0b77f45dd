package metrics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnana997/designflow/pkg/remote"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRemote("figma", "fetch_file", "", time.Second)
		m.ObserveTool("generate_component", true, time.Second)
		m.ObserveWorkflow("visual_test", remote.KindTimeout)
		m.LeaseAcquired(true)
		m.LeaseReleased()
		m.CacheLookup(false)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveRemote("github", "create_branch", remote.KindConflict, 10*time.Millisecond)
	m.ObserveRemote("github", "create_branch", "", 10*time.Millisecond)
	m.ObserveTool("create_branch", false, time.Millisecond)
	m.LeaseAcquired(true)
	m.LeaseAcquired(false)
	m.LeaseReleased()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteCalls.WithLabelValues("github", "create_branch", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteCalls.WithLabelValues("github", "create_branch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("create_branch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolLeases))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolWaits))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	m := New()
	m.ObserveWorkflow("generate_and_commit", "")
	router := NewRouter(m, func() map[string]string {
		return map[string]string{"browser": "ready"}
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"browser": "ready"}, body["components"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `designflow_workflow_runs_total{kind="ok",workflow="generate_and_commit"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", New(), nil, slog.New(slog.DiscardHandler))
	addr, err := srv.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(data), `"status":"ok"`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
