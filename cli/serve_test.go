package cli

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/releasedash/audit"
	"github.com/smallnest/releasedash/config"
	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/internal/lifetime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// azureStub serves the few release endpoints the serve tests touch.
type azureStub struct {
	mu        sync.Mutex
	calls     []string
	failPatch bool
	srv       *httptest.Server
}

func newAzureStub(t *testing.T, failPatch bool) *azureStub {
	t.Helper()
	s := &azureStub{failPatch: failPatch}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path)
		s.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/org/proj/_apis/release/definitions":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"count":1,"value":[{"id":1,"name":"web"}]}`)
		case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/org/proj/_apis/release/releases/"):
			if s.failPatch {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *azureStub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type serveRun struct {
	lt        *lifetime.Lifetime
	baseURL   string
	auditPath string
	done      chan error
}

func startServe(t *testing.T, stub *azureStub) *serveRun {
	t.Helper()

	client, err := devops.NewClient(devops.Options{
		BaseURL:                 stub.srv.URL + "/org/proj",
		PAT:                     "dXNlcjp0b2tlbg==",
		APIVersion:              "7.1",
		APIVersionPatchRelease:  "7.1-preview.7",
		APIVersionPatchApproval: "7.1-preview.3",
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Gateway.ShutdownTimeout = 5 * time.Second
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.db")

	run := &serveRun{
		lt:        lifetime.New(),
		baseURL:   "http://" + ln.Addr().String(),
		auditPath: cfg.Audit.Path,
		done:      make(chan error, 1),
	}
	go func() { run.done <- serve(run.lt, cfg, client, ln) }()
	t.Cleanup(func() { run.lt.StopApplication(nil) })

	require.Eventually(t, func() bool {
		resp, err := http.Get(run.baseURL + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func (r *serveRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func (r *serveRun) cancel(t *testing.T, releaseID, environmentID string) {
	t.Helper()
	resp, err := http.Post(r.baseURL+"/api/releases/"+releaseID+"/environments/"+environmentID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func auditRecords(t *testing.T, path string) []audit.Record {
	t.Helper()
	store, err := audit.Open(path)
	require.NoError(t, err)
	defer store.Close()
	records, err := store.List(context.Background(), 50)
	require.NoError(t, err)
	return records
}

func TestServeStartThenStop(t *testing.T) {
	stub := newAzureStub(t, false)
	run := startServe(t, stub)

	resp, err := http.Get(run.baseURL + "/api/pipelines")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"web"`)

	run.cancel(t, "7", "70")

	require.Eventually(t, func() bool {
		resp, err := http.Get(run.baseURL + "/api/audit")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var records []audit.Record
		if json.NewDecoder(resp.Body).Decode(&records) != nil {
			return false
		}
		return len(records) == 1 && records[0].Type == "command.executed"
	}, 5*time.Second, 10*time.Millisecond)

	run.lt.StopApplication(nil)
	require.NoError(t, run.wait(t))

	assert.Error(t, run.lt.ApplicationStopped().Err())
	assert.Nil(t, run.lt.Err())
	assert.Equal(t, []string{
		"GET /org/proj/_apis/release/definitions",
		"PATCH /org/proj/_apis/release/releases/7/environments/70",
	}, stub.Calls())

	_, err = http.Get(run.baseURL + "/health")
	assert.Error(t, err, "listener is closed after serve returns")
}

func TestServeStopsOnBackendFailure(t *testing.T) {
	stub := newAzureStub(t, true)
	run := startServe(t, stub)

	run.cancel(t, "7", "70")

	err := run.wait(t)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBackendStatus, errors.GetCode(err))
	assert.Equal(t, http.StatusInternalServerError, errors.StatusCode(err))
	assert.Equal(t, err, run.lt.Err())
	assert.Error(t, run.lt.ApplicationStopped().Err())

	// The bus outlives the worker, so the audit consumer records the stop.
	records := auditRecords(t, run.auditPath)
	require.Len(t, records, 1)
	assert.Equal(t, "worker.stopped", records[0].Type)
	assert.Equal(t, "cancel-release", records[0].Kind)
	assert.Contains(t, records[0].Error, "500")
}
