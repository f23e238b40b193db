package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandari/ingestor/internal/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeHealthChecker struct {
	err error
}

func (f fakeHealthChecker) Ping(ctx context.Context) error {
	return f.err
}

func TestHealthEndpoint_Healthy(t *testing.T) {
	srv := server.New(server.ServerConfig{
		DB:           fakeHealthChecker{},
		Logger:       testLogger(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Version:      "test",
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	srv := server.New(server.ServerConfig{
		DB:           fakeHealthChecker{err: errors.New("connection refused")},
		Logger:       testLogger(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Version:      "test",
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestHealthEndpoint_NoDBConfigured(t *testing.T) {
	srv := server.New(server.ServerConfig{
		Logger:       testLogger(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Version:      "test",
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("mandari_ingestor_http_requests_total 0\n"))
	})

	srv := server.New(server.ServerConfig{
		Logger:       testLogger(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Version:      "test",
		Metrics:      metricsHandler,
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "mandari_ingestor_http_requests_total")
}

func TestMetricsEndpoint_NotMountedWhenNil(t *testing.T) {
	srv := server.New(server.ServerConfig{
		Logger:       testLogger(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Version:      "test",
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	srv := server.New(server.ServerConfig{
		Logger:       testLogger(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Version:      "test",
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRequestIDMiddleware_ClientProvided(t *testing.T) {
	srv := server.New(server.ServerConfig{
		Logger:       testLogger(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Version:      "test",
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	clientReqID := "my-custom-request-id-12345"
	req, err := http.NewRequest("GET", ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", clientReqID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, clientReqID, resp.Header.Get("X-Request-ID"),
		"response should echo back the client-provided X-Request-ID")
}
