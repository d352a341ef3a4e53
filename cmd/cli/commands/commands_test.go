package commands

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runCommand executes the command tree against a fake gateway and captures
// stdout.
func runCommand(t *testing.T, handler http.HandlerFunc, args ...string) (string, error) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--addr", ts.URL, "--token", "test-token"))
	err := root.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		w.Write([]byte(`{"status":"ok","connected_runners":3,"models":{"llama-70b":2,"qwen-7b":1}}`))
	}, "status")
	require.NoError(t, err)
	require.Contains(t, out, "Gateway is ok")
	require.Contains(t, out, "Connected runners: 3")
	require.Contains(t, out, "llama-70b (2 runner(s))")
}

func TestRunnersCommandTable(t *testing.T) {
	lastSeen := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"runners":[` +
			`{"id":"r1","name":"node-a","health":"ok","is_online":true,"loaded_models":["llama-70b"],"active_requests":2,"last_seen_at":"` + lastSeen + `"},` +
			`{"id":"r2","name":"node-b","health":"offline","is_online":false,"last_seen_at":"` + lastSeen + `"}` +
			`],"count":2}`))
	}, "runners")
	require.NoError(t, err)
	require.Contains(t, out, "ID")
	require.Contains(t, out, "r1")
	require.Contains(t, out, "llama-70b")
	require.Contains(t, out, "offline")
	require.Contains(t, out, "2 hours ago")
}

func TestRunnersCommandJSON(t *testing.T) {
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"runners":[{"id":"r1","name":"node-a","health":"ok","is_online":true}],"count":1}`))
	}, "runners", "--json")
	require.NoError(t, err)
	require.Contains(t, out, `"id": "r1"`)
}

func TestPingCommand(t *testing.T) {
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/runners/r1/ping", r.URL.Path)
		w.Write([]byte(`{"success":true}`))
	}, "ping", "r1")
	require.NoError(t, err)
	require.Contains(t, out, "Runner r1 pinged")
}

func TestWakeCommandFailureExitsNonZero(t *testing.T) {
	exitCode := -1
	restore := osExit
	osExit = func(code int) { exitCode = code }
	defer func() { osExit = restore }()

	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"no MAC address configured for runner"}`))
	}, "wake", "r1")
	require.NoError(t, err)
	require.Contains(t, out, "no MAC address")
	require.Equal(t, 1, exitCode)
}

func TestRequestsCommand(t *testing.T) {
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/requests", r.URL.Path)
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"requests":[{"id":"a","model":"llama-70b","status_code":200}],"count":1}`))
	}, "requests", "--limit", "10")
	require.NoError(t, err)
	require.Contains(t, out, `"model":"llama-70b"`)
}

func TestLogsCommand(t *testing.T) {
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/logs", r.URL.Path)
		w.Write([]byte("level=info msg=\"Listening on :8080\"\n"))
	}, "logs")
	require.NoError(t, err)
	require.Contains(t, out, "Listening on :8080")
}
