package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FreshnessTracker/internal/config"
	"FreshnessTracker/internal/logging"
	"FreshnessTracker/internal/usecase"
)

func testConfig() config.Config {
	cfg := config.LoadFrom("")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Simulation.TickInterval = 20 * time.Millisecond
	cfg.Simulation.Patches = 5
	return cfg
}

func TestApplicationServesWithoutExternalServices(t *testing.T) {
	a, err := New(context.Background(), testConfig(), logging.New("error", "text"))
	require.NoError(t, err)
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start/origin", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status usecase.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, usecase.StateRunning, status.State)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start/origin", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestApplicationFailsOnUnreachableDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Enabled = true
	cfg.Database.DSN = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := New(ctx, cfg, logging.New("error", "text"))
	require.Error(t, err)
}
