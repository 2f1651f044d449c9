package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCountingServer(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"network":{"name":"osm","version":3}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).Run(context.Background(), append([]string{"targomo"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestFetchRepeatedUsesSharedCache(t *testing.T) {
	srv, hits := newCountingServer(t)

	stdout, stderr, err := runApp(t, "fetch", "--url", srv.URL+"/metadata", "--repeat", "5", "--parallel", "3", "--query", "network.name")
	require.NoError(t, err)

	assert.Contains(t, stdout, `"osm"`)
	assert.Contains(t, stderr, "5 requests, 1 network calls")
	assert.Equal(t, int64(1), atomic.LoadInt64(hits))
}

func TestFetchBypassHitsNetworkEveryTime(t *testing.T) {
	srv, hits := newCountingServer(t)

	_, stderr, err := runApp(t, "fetch", "--url", srv.URL+"/polygon", "-X", "POST", "-d", `{"travelType":"bike"}`, "--cache", "bypass", "-n", "4")
	require.NoError(t, err)

	assert.Contains(t, stderr, "4 requests, 4 network calls")
	assert.Equal(t, int64(4), atomic.LoadInt64(hits))
}

func TestFetchWithConfigFile(t *testing.T) {
	srv, hits := newCountingServer(t)

	path := filepath.Join(t.TempDir(), "targomo.yaml")
	cfg := "base_url: " + srv.URL + "/v1/\ncache:\n  mode: lru\n  capacity: 2\nretry:\n  max_retries: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	_, stderr, err := runApp(t, "--config", path, "fetch", "--url", "metadata", "-n", "3")
	require.NoError(t, err)

	assert.Contains(t, stderr, "3 requests, 1 network calls")
	assert.Equal(t, int64(1), atomic.LoadInt64(hits))
}

func TestFetchRejectsBadPayload(t *testing.T) {
	srv, _ := newCountingServer(t)

	_, _, err := runApp(t, "fetch", "--url", srv.URL, "-d", "{nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--data is not valid JSON")
}

func TestFetchRejectsUnknownCacheMode(t *testing.T) {
	srv, _ := newCountingServer(t)

	_, _, err := runApp(t, "fetch", "--url", srv.URL, "--cache", "redis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "targomo-go")
}
