package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atimmer/devservers/internal/catalog"
	"github.com/atimmer/devservers/internal/catalogstore"
	"github.com/atimmer/devservers/internal/orchestrator"
	"github.com/atimmer/devservers/internal/supervisor"
)

// fakeTmuxRunner is a trimmed variant of the in-memory tmux stand-in the
// orchestrator package tests use (that one is unexported there); this one
// does not record sent commands and answers capture-pane with a fixed line.
type fakeTmuxRunner struct {
	mu      sync.Mutex
	windows map[string]string
}

func newFakeTmuxRunner() *fakeTmuxRunner {
	return &fakeTmuxRunner{windows: make(map[string]string)}
}

func (f *fakeTmuxRunner) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch args[0] {
	case "has-session", "new-session", "send-keys":
		return "", nil
	case "list-windows":
		var names []string
		for name := range f.windows {
			names = append(names, name)
		}
		return strings.Join(names, "\n"), nil
	case "list-panes":
		return "0", nil
	case "new-window":
		f.windows[args[len(args)-3]] = ""
		return "", nil
	case "kill-window":
		target := args[len(args)-1]
		name := strings.TrimPrefix(target, "devservers:")
		delete(f.windows, name)
		return "", nil
	case "capture-pane":
		return "ready on http://localhost:3000", nil
	}
	return "", nil
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "devservers.json")
	require.NoError(t, catalogstore.Write(configPath, catalog.Catalog{
		Version: 1,
		Services: []catalog.Service{
			{Name: "api", Cwd: dir, Command: "run-api", Port: intPtr(8080)},
		},
	}))

	orch := orchestrator.New(configPath, orchestrator.WithSupervisor(supervisor.NewWithRunner(newFakeTmuxRunner())))
	t.Cleanup(orch.Close)

	srv := New(orch)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, configPath
}

func intPtr(v int) *int { return &v }

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListServicesIncludesSeeded(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/services")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Services []struct {
			Name string `json:"name"`
		} `json:"services"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Services, 1)
	assert.Equal(t, "api", body.Services[0].Name)
}

func TestUpsertServiceThenGetConfig(t *testing.T) {
	ts, _ := newTestServer(t)

	payload, _ := json.Marshal(catalog.Service{Name: "worker", Cwd: "/tmp", Command: "run-worker"})
	resp, err := http.Post(ts.URL+"/services", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cfgResp, err := http.Get(ts.URL + "/services/worker/config")
	require.NoError(t, err)
	defer cfgResp.Body.Close()
	assert.Equal(t, http.StatusOK, cfgResp.StatusCode)
}

func TestUpsertServiceInvalidNameReturns400(t *testing.T) {
	ts, _ := newTestServer(t)

	payload, _ := json.Marshal(catalog.Service{Name: "bad name!", Cwd: "/tmp", Command: "run"})
	resp, err := http.Post(ts.URL+"/services", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteUnknownServiceReturns404(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/services/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartIssuesSupervisorWindow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/services/api/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProjectLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	projectDir := t.TempDir()

	payload, _ := json.Marshal(catalog.Project{Name: "demo", Path: projectDir})
	resp, err := http.Post(ts.URL+"/projects", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	listResp, err := http.Get(ts.URL + "/projects")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var body struct {
		Projects []catalog.Project `json:"projects"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&body))
	require.Len(t, body.Projects, 1)
	assert.Equal(t, "demo", body.Projects[0].Name)

	delResp, err := http.DefaultClient.Do(mustRequest(t, http.MethodDelete, ts.URL+"/projects/demo"))
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return req
}

func TestUpsertProjectRejectsMissingPath(t *testing.T) {
	ts, _ := newTestServer(t)

	payload, _ := json.Marshal(catalog.Project{Name: "ghost", Path: "/does/not/exist"})
	resp, err := http.Post(ts.URL+"/projects", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetLogsReturnsCapturedPane(t *testing.T) {
	ts, _ := newTestServer(t)

	// A window must exist before capture returns anything meaningful; start
	// it first.
	startResp, err := http.Post(ts.URL+"/services/api/start", "application/json", nil)
	require.NoError(t, err)
	startResp.Body.Close()

	logsResp, err := http.Get(ts.URL + "/services/api/logs?lines=50")
	require.NoError(t, err)
	defer logsResp.Body.Close()
	assert.Equal(t, http.StatusOK, logsResp.StatusCode)

	var body struct {
		Payload string `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(logsResp.Body).Decode(&body))
}
