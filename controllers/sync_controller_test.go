package controllers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/halocore099/phone-repair-dashboard/controllers"
	apperrors "github.com/halocore099/phone-repair-dashboard/errors"
	"github.com/halocore099/phone-repair-dashboard/models"
	"github.com/halocore099/phone-repair-dashboard/ratelimit"
	"github.com/halocore099/phone-repair-dashboard/routes"
	"github.com/halocore099/phone-repair-dashboard/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- mocks ----

type mockSyncSvc struct {
	report *models.SyncReport
	err    error
	got    models.SyncOptions
	calls  int
}

func (m *mockSyncSvc) Sync(_ context.Context, opts models.SyncOptions) (*models.SyncReport, error) {
	m.calls++
	m.got = opts
	return m.report, m.err
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockLimiter struct{ stats ratelimit.Stats }

func (m *mockLimiter) Stats() ratelimit.Stats { return m.stats }

// slowSyncSvc takes longer than the client is willing to wait and records whether the
// run context was cancelled underneath it.
type slowSyncSvc struct {
	delay     time.Duration
	done      chan struct{}
	cancelled error
}

func (m *slowSyncSvc) Sync(ctx context.Context, _ models.SyncOptions) (*models.SyncReport, error) {
	defer close(m.done)
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
	}
	m.cancelled = ctx.Err()
	return &models.SyncReport{RunID: "run-slow"}, nil
}

// ---- helpers ----

func setupRouter(svc services.SyncService, db controllers.Pinger, limiter controllers.LimiterStats) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	routes.RegisterSyncRoutes(r, controllers.NewSyncController(svc, db, limiter, zap.NewNop()))
	return r
}

func get(r *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

// ---- tests ----

func TestRootAndHealth(t *testing.T) {
	r := setupRouter(&mockSyncSvc{}, &mockPinger{}, nil)

	w := get(r, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Catalog sync server is running", w.Body.String())

	w = get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"catalog-sync"}`, w.Body.String())
}

func TestDebugSync_Success(t *testing.T) {
	svc := &mockSyncSvc{report: &models.SyncReport{RunID: "run-1", DryRun: true, Created: 2}}
	r := setupRouter(svc, &mockPinger{}, nil)

	w := get(r, "/debug-sync?limit=5&dry_run=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SyncOptions{Limit: 5, DryRun: true}, svc.got)

	var body models.SyncReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 2, body.Created)
}

func TestDebugSync_InvalidParams(t *testing.T) {
	svc := &mockSyncSvc{}
	r := setupRouter(svc, &mockPinger{}, nil)

	for _, target := range []string{"/debug-sync?limit=abc", "/debug-sync?limit=-3", "/debug-sync?dry_run=maybe"} {
		w := get(r, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
	assert.Zero(t, svc.calls)
}

func TestDebugSync_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"conflict", services.ErrSyncInProgress, http.StatusConflict},
		{"catalog store down", &services.FetchError{Catalog: apperrors.Storage("Database connection error", errors.New("refused"))}, http.StatusServiceUnavailable},
		{"storefront down", &services.FetchError{Storefront: apperrors.Storefront("GET /products", errors.New("status 503"))}, http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := setupRouter(&mockSyncSvc{err: tc.err}, &mockPinger{}, nil)
			w := get(r, "/debug-sync")
			assert.Equal(t, tc.want, w.Code)
			assert.Contains(t, w.Body.String(), tc.err.Error())
		})
	}
}

func TestTestDB(t *testing.T) {
	w := get(setupRouter(&mockSyncSvc{}, &mockPinger{}, nil), "/test-db")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Database connection successful!", w.Body.String())

	w = get(setupRouter(&mockSyncSvc{}, &mockPinger{err: errors.New("connection refused")}, nil), "/test-db")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestLimiterStats(t *testing.T) {
	next := time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC)
	r := setupRouter(&mockSyncSvc{}, &mockPinger{}, &mockLimiter{stats: ratelimit.Stats{Reservoir: 42, NextRefill: next, Queued: 1}})

	w := get(r, "/debug-sync/limiter")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Enabled bool            `json:"enabled"`
		Stats   ratelimit.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Enabled)
	assert.Equal(t, 42, body.Stats.Reservoir)
	assert.True(t, next.Equal(body.Stats.NextRefill))

	w = get(setupRouter(&mockSyncSvc{}, &mockPinger{}, nil), "/debug-sync/limiter")
	assert.JSONEq(t, `{"enabled":false}`, w.Body.String())
}

func TestDebugSync_ClientDisconnectDoesNotAbortRun(t *testing.T) {
	svc := &slowSyncSvc{delay: 150 * time.Millisecond, done: make(chan struct{})}
	srv := httptest.NewServer(setupRouter(svc, &mockPinger{}, nil))
	defer srv.Close()

	client := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := client.Get(srv.URL + "/debug-sync")
	require.Error(t, err, "client should give up before the run finishes")

	select {
	case <-svc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not finish")
	}
	assert.NoError(t, svc.cancelled)
}
