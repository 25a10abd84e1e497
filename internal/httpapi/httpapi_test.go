package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/disturb/internal/engine"
	"github.com/petrijr/disturb/internal/monitoring"
	"github.com/petrijr/disturb/internal/persistence"
	"github.com/petrijr/disturb/pkg/api"
)

type startCall struct {
	id      string
	payload api.Payload
}

type fixture struct {
	engine  *engine.Engine
	monitor *monitoring.Service
	server  *httptest.Server

	mu     sync.Mutex
	starts []startCall
}

func (f *fixture) calls() []startCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]startCall(nil), f.starts...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	def := &api.Definition{Name: "shop", Steps: []api.StepGroup{api.Single(api.Step{Name: "fetch"})}}
	f := &fixture{
		engine:  engine.New(def, persistence.NewStore(persistence.NewMemoryBackend())),
		monitor: monitoring.New(persistence.NewStore(persistence.NewMemoryBackend()), monitoring.WithHostname("node-1")),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "disturb_test_total", Help: "test"}))

	h := NewHandler(Config{
		Workflows: f.engine,
		Starter: StarterFunc(func(_ context.Context, id string, payload api.Payload) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.starts = append(f.starts, startCall{id: id, payload: payload})
			return nil
		}),
		Workers:  f.monitor,
		Gatherer: reg,
	})
	f.server = httptest.NewServer(h)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGetContextAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Init(ctx, "wf-1", api.Payload{"a": "b"})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/v1/workflows/wf-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wc api.WorkflowContext
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wc))
	assert.Equal(t, "wf-1", wc.ID)
	assert.Equal(t, api.StatusStarted, wc.Status)

	resp = f.do(t, http.MethodGet, "/v1/workflows/wf-1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, api.StatusStarted, st.Status)
	assert.Equal(t, api.StatusNotStarted, st.CurrentStepStatus)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/workflows/missing"},
		{http.MethodGet, "/v1/workflows/missing/status"},
		{http.MethodDelete, "/v1/workflows/missing"},
		{http.MethodGet, "/v1/workers/missing"},
	} {
		resp := f.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body["error"])
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Init(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	resp := f.do(t, http.MethodDelete, "/v1/workflows/wf-1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = f.engine.Context(context.Background(), "wf-1")
	require.ErrorIs(t, err, api.ErrContextNotFound)
}

func TestStart(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/workflows/wf-9/start", `{"sku":"A-1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	calls := f.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "wf-9", calls[0].id)
	assert.Equal(t, "A-1", calls[0].payload["sku"])

	resp = f.do(t, http.MethodPost, "/v1/workflows/wf-10/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	calls = f.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, api.Payload{}, calls[1].payload)

	resp = f.do(t, http.MethodPost, "/v1/workflows/wf-11/start", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, f.calls(), 2)
}

func TestWorkerInfo(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.monitor.WorkerStarted(context.Background(), "node-1-manager-x", 99))

	resp := f.do(t, http.MethodGet, "/v1/workers/node-1-manager-x", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info monitoring.WorkerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, monitoring.StatusStarted, info.Status)
	assert.Equal(t, 99, info.PID)
	assert.Equal(t, "node-1", info.RunningOn)
}

func TestMetricsAndMethods(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sb strings.Builder
	_, err := io.Copy(&sb, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, sb.String(), "disturb_test_total")

	resp = f.do(t, http.MethodPut, "/v1/workflows/wf-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
