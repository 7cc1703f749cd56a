package server

import (
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
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/handlers"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/services/control"
	"github.com/ternarybob/gleaner/internal/services/events"
	"github.com/ternarybob/gleaner/internal/services/scheduler"
	"github.com/ternarybob/gleaner/internal/storage/badger"
	"github.com/ternarybob/gleaner/internal/storage/sqlite"
)

type testEnv struct {
	router    http.Handler
	records   *badger.Manager
	mu        sync.Mutex
	triggered []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()
	dir := t.TempDir()

	records, err := badger.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(dir, "records")})
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	ctl, err := sqlite.NewManager(logger, &common.SQLiteConfig{Path: filepath.Join(dir, "control.db"), BusyTimeoutMS: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { ctl.Close() })

	bus := events.NewService(logger)
	t.Cleanup(func() { bus.Close() })

	env := &testEnv{records: records}
	svc := control.NewService(ctl.ControlStorage(), bus, func(ctx context.Context, scraper string) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.triggered = append(env.triggered, scraper)
		return nil
	}, []string{"feed", "jobboard"}, logger)

	sched := scheduler.NewService(logger)
	require.NoError(t, sched.RegisterJob("ingest", "0 */5 * * *", "Incremental ingest", func(ctx context.Context) error { return nil }))

	env.router = NewRouter(Handlers{
		Control:   handlers.NewControlHandler(svc, logger),
		Records:   handlers.NewRecordsHandler(records.RecordStorage(), logger),
		Scheduler: handlers.NewSchedulerHandler(sched, logger),
		WebSocket: handlers.NewWebSocketHandler("test", logger),
	}, logger)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "gleaner", body["service"])
	assert.NotEmpty(t, body["version"])
}

func TestServicePauseAndStart(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/service/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "active", body["status"])

	code, body = env.do(t, http.MethodPost, "/api/service/pause")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paused", body["status"])

	_, body = env.do(t, http.MethodGet, "/api/service/status")
	assert.Equal(t, "paused", body["status"])

	code, body = env.do(t, http.MethodPost, "/api/service/start")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "active", body["status"])
}

func TestScraperLifecycle(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/scrapers")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])

	code, body = env.do(t, http.MethodPost, "/api/scraper/feed/pause")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paused", body["status"])

	code, body = env.do(t, http.MethodGet, "/api/scraper/feed/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "feed", body["name"])
	assert.Equal(t, "paused", body["status"])
	assert.Equal(t, float64(0), body["recordsIngested"])

	code, body = env.do(t, http.MethodPost, "/api/scraper/feed/start")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["status"])
	assert.Empty(t, env.triggered)

	code, _ = env.do(t, http.MethodPost, "/api/scraper/feed/start?run=true")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{"feed"}, env.triggered)
}

func TestScraperStart_Errors(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/scraper/other/start?run=true")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "unknown source")

	code, body = env.do(t, http.MethodPost, "/api/scraper/feed/start?run=maybe")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", body["status"])

	long := strings.Repeat("x", 65)
	code, _ = env.do(t, http.MethodGet, "/api/scraper/"+long+"/status")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRecordsStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.records.RecordStorage().SaveRecords(ctx, []*models.Record{
		{ID: "a1", Source: "feed", SourceID: "1", Title: "Go Developer"},
		{ID: "a2", Source: "feed", SourceID: "2", Title: "Backend Engineer"},
		{ID: "b1", Source: "jobboard", SourceID: "9", Title: "SRE"},
	}))

	code, body := env.do(t, http.MethodGet, "/api/records/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["total"])
	bySource := body["bySource"].(map[string]interface{})
	assert.Equal(t, float64(2), bySource["feed"])
	assert.Equal(t, float64(1), bySource["jobboard"])

	code, body = env.do(t, http.MethodGet, "/api/records?source=feed&pageSize=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["records"], 1)
}

func TestSchedulerRoutes(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/scheduler/jobs")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, _ = env.do(t, http.MethodPost, "/api/scheduler/jobs/ingest/trigger")
	assert.Equal(t, http.StatusAccepted, code)

	code, _ = env.do(t, http.MethodPost, "/api/scheduler/jobs/missing/trigger")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/nothing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", body["status"])

	code, _ = env.do(t, http.MethodGet, "/api/service/pause")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/service/status", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
