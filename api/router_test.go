package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/app"
	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/internal/infrastructure"
	"github.com/yourusername/rtu-fetch-go/pkg/logger"
)

// gatedTransport serves a fixed tree and holds every retrieve until released
type gatedTransport struct {
	dirs    map[string][]string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		dirs: map[string][]string{
			"/data/2024/12/15/": {"A1_20241215.txt", "B9_20241215.txt"},
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedTransport) Connect(ctx context.Context) error { return nil }

func (g *gatedTransport) List(ctx context.Context, dir string) ([]string, error) {
	names, ok := g.dirs[dir]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", dir, domain.ErrDirectoryNotFound)
	}
	return names, nil
}

func (g *gatedTransport) Retrieve(ctx context.Context, path string, w io.Writer) (int64, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	n, err := io.WriteString(w, "rtu data")
	return int64(n), err
}

func (g *gatedTransport) Close() error { return nil }

type testAPI struct {
	router    http.Handler
	orch      *app.Orchestrator
	transport *gatedTransport
	saved     [][]domain.ServerConfig
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	config := domain.DefaultConfig()
	config.Download.ConnectRetries = 1
	config.Download.RetryDelay = time.Millisecond
	config.Servers = []domain.ServerConfig{{
		ID:             "north",
		Host:           "ftp.example.org",
		Port:           21,
		Username:       "rtu",
		Password:       "secret",
		RemoteBasePath: "/data",
		StateLabel:     "Kerala",
		LocalBasePath:  "/out",
		Stations:       []string{"A1"},
	}}

	repo, err := infrastructure.NewSQLiteRunRepository(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	transport := newGatedTransport()
	factory := func(domain.ServerConfig) domain.Transport { return transport }
	engine := infrastructure.NewTransferEngine(afero.NewMemMapFs(), nil)
	orch := app.NewOrchestrator(config, factory, engine, repo, nil, nil, zap.NewNop())

	ta := &testAPI{orch: orch, transport: transport}
	ta.router = SetupRouter(orch, repo, logger.NewSingleLoggerAdapter(zap.NewNop()), t.TempDir(), RouterOptions{
		SaveServers: func(servers []domain.ServerConfig) error {
			ta.saved = append(ta.saved, servers)
			return nil
		},
	})
	return ta
}

func (ta *testAPI) start(t *testing.T) {
	t.Helper()
	require.NoError(t, ta.orch.Start(context.Background()))
	t.Cleanup(func() { _ = ta.orch.Stop() })
}

func (ta *testAPI) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthAndReady(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ta.start(t)

	w = ta.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ta.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status       string `json:"status"`
		Orchestrator struct {
			Running bool `json:"running"`
		} `json:"orchestrator"`
	}
	decode(t, w, &health)
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Orchestrator.Running)
}

func TestServers_ListAndGet(t *testing.T) {
	ta := newTestAPI(t)
	ta.start(t)

	w := ta.do(http.MethodGet, "/api/v1/servers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count   int                `json:"count"`
		Servers []app.ServerStatus `json:"servers"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "north", list.Servers[0].Server.ID)
	assert.Equal(t, domain.StateIdle, list.Servers[0].State)
	assert.NotContains(t, w.Body.String(), "secret")

	w = ta.do(http.MethodGet, "/api/v1/servers/north", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ta.do(http.MethodGet, "/api/v1/servers/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServers_StartRejectsBadInput(t *testing.T) {
	ta := newTestAPI(t)
	ta.start(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"empty request", "/api/v1/servers/north/start", map[string]string{}, http.StatusBadRequest},
		{"start after end", "/api/v1/servers/north/start",
			map[string]string{"start": "2024-12-16 00:00", "end": "2024-12-15 00:00"}, http.StatusBadRequest},
		{"bad timestamp", "/api/v1/servers/north/start", map[string]string{"timestamp": "2412"}, http.StatusBadRequest},
		{"unknown server", "/api/v1/servers/nowhere/start", map[string]string{"date": "2024-12-15"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ta.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestServers_SessionControl(t *testing.T) {
	ta := newTestAPI(t)
	ta.start(t)

	w := ta.do(http.MethodPost, "/api/v1/servers/north/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no session yet")

	w = ta.do(http.MethodPost, "/api/v1/servers/north/start", map[string]string{"date": "2024-12-15"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started struct {
		SessionID string `json:"session_id"`
		ServerID  string `json:"server_id"`
	}
	decode(t, w, &started)
	require.NotEmpty(t, started.SessionID)
	assert.Equal(t, "north", started.ServerID)

	select {
	case <-ta.transport.started:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer never started")
	}

	w = ta.do(http.MethodPost, "/api/v1/servers/north/start", map[string]string{"date": "2024-12-15"})
	assert.Equal(t, http.StatusConflict, w.Code)

	var status app.ServerStatus
	w = ta.do(http.MethodPost, "/api/v1/servers/north/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &status)
	assert.Equal(t, domain.StatePaused, status.State)

	w = ta.do(http.MethodPost, "/api/v1/servers/north/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &status)
	assert.Equal(t, domain.StateRunning, status.State)

	w = ta.do(http.MethodPost, "/api/v1/servers/north/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &status)
	assert.Equal(t, domain.StateCancelling, status.State)

	close(ta.transport.release)

	require.Eventually(t, func() bool {
		w := ta.do(http.MethodGet, "/api/v1/runs/"+started.SessionID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var run domain.Run
		_ = json.Unmarshal(w.Body.Bytes(), &run)
		return run.State == domain.StateCancelled
	}, 5*time.Second, 10*time.Millisecond)

	w = ta.do(http.MethodPost, "/api/v1/servers/north/resume", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ta.do(http.MethodGet, "/api/v1/runs?server_id=north", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs struct {
		Count int `json:"count"`
	}
	decode(t, w, &runs)
	assert.Equal(t, 1, runs.Count)

	w = ta.do(http.MethodGet, "/api/v1/runs?state=completed", nil)
	decode(t, w, &runs)
	assert.Equal(t, 0, runs.Count)

	w = ta.do(http.MethodGet, "/api/v1/runs/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.RunStats
	decode(t, w, &stats)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Cancelled)

	w = ta.do(http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServers_Update(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodPut, "/api/v1/servers/north", map[string]interface{}{
		"host":             "ftp2.example.org",
		"port":             2121,
		"username":         "rtu",
		"remote_base_path": "/rtu",
		"local_base_path":  "/out",
		"stations":         []string{"A1", "A2"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status, err := ta.orch.Status("north")
	require.NoError(t, err)
	assert.Equal(t, "ftp2.example.org", status.Server.Host)
	assert.Equal(t, []string{"A1", "A2"}, status.Server.Stations)

	require.Len(t, ta.saved, 1)
	require.Len(t, ta.saved[0], 1)
	assert.Equal(t, "secret", ta.saved[0][0].Password, "empty password keeps the stored one")

	w = ta.do(http.MethodPut, "/api/v1/servers/north", map[string]interface{}{
		"host":     "ftp2.example.org",
		"stations": []string{"A1", "A1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(http.MethodPut, "/api/v1/servers/north", map[string]interface{}{"stations": []string{"A1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "host is required")
}

func TestServers_Preview(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodGet, "/api/v1/servers/north/preview?date=2024-12-15", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var preview app.RemotePreview
	decode(t, w, &preview)
	assert.Equal(t, "/data/2024/12/15/", preview.Dir)
	assert.Equal(t, []string{"A1_20241215.txt"}, preview.Matches["A1"])

	w = ta.do(http.MethodGet, "/api/v1/servers/north/preview?date=2024-12-14", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ta.do(http.MethodGet, "/api/v1/servers/north/preview?date=15-12-2024", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServers_TestConnection(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodPost, "/api/v1/servers/north/test", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ta.do(http.MethodPost, "/api/v1/servers/nowhere/test", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunNow_RequiresRunningOrchestrator(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodPost, "/api/v1/run-now", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLogs(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodGet, "/api/v1/logs/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cats struct {
		Categories []string `json:"categories"`
	}
	decode(t, w, &cats)
	assert.Equal(t, []string{"session", "scheduler", "error"}, cats.Categories)

	w = ta.do(http.MethodGet, "/api/v1/logs/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ta.do(http.MethodGet, "/api/v1/logs/download", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(http.MethodGet, "/api/v1/logs/session?date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(http.MethodGet, "/api/v1/logs/session/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoRoute(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodGet, "/api/v1/downloads", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
