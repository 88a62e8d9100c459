package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menulens/api/internal/cache"
	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/internal/objstore"
	"github.com/menulens/api/internal/store"
	"github.com/menulens/api/pkg/models"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error { return s.pingErr }

func (s *testStore) CreateScanJob(_ context.Context, _ *models.ScanJob) error { return nil }
func (s *testStore) GetScanJob(_ context.Context, _ uuid.UUID) (*models.ScanJob, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) ClaimScanJob(_ context.Context, _ uuid.UUID, _ time.Time) (bool, error) {
	return false, nil
}
func (s *testStore) UpdateJobStatus(_ context.Context, _ uuid.UUID, _ string, _ ...store.JobUpdateOption) error {
	return nil
}
func (s *testStore) ListStaleScanJobs(_ context.Context, _ time.Time, _ int) ([]*models.ScanJob, error) {
	return nil, nil
}
func (s *testStore) AppendEvent(_ context.Context, _ uuid.UUID, _ string, _ []byte, _ time.Time) (int64, error) {
	return 0, nil
}
func (s *testStore) ListEventsAfter(_ context.Context, _ uuid.UUID, _ int64, _ int) ([]*models.ScanEvent, error) {
	return nil, nil
}
func (s *testStore) GetSnapshot(_ context.Context, _ uuid.UUID) (*models.Snapshot, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) UpdateSnapshot(_ context.Context, _ uuid.UUID, _ string, _ []models.MenuItem) error {
	return nil
}
func (s *testStore) FetchDishKnowledge(_ context.Context, _ string, _ []string) (map[string]*models.DishKnowledge, error) {
	return nil, nil
}
func (s *testStore) UpsertDishKnowledge(_ context.Context, _ []*models.DishKnowledge) (int, error) {
	return 0, nil
}
func (s *testStore) InsertScanRecord(_ context.Context, _ *models.ScanRecord) (bool, error) {
	return false, nil
}
func (s *testStore) ListScanRecordsByHash(_ context.Context, _ string, _ int) ([]*models.ScanRecord, error) {
	return nil, nil
}
func (s *testStore) ListScanRecordsByGeoCells(_ context.Context, _ []string, _ int) ([]*models.ScanRecord, error) {
	return nil, nil
}
func (s *testStore) PurgeExpired(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}
func (c *testCache) Delete(_ context.Context, _ string) error { return nil }
func (c *testCache) Ping(_ context.Context) error             { return c.pingErr }
func (c *testCache) SetSnapshot(_ context.Context, _ uuid.UUID, _ []byte, _ time.Duration) error {
	return nil
}
func (c *testCache) GetSnapshot(_ context.Context, _ uuid.UUID) ([]byte, bool, error) {
	return nil, false, nil
}
func (c *testCache) InvalidateSnapshot(_ context.Context, _ uuid.UUID) error { return nil }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	h := healthHandler(&testStore{pingErr: errors.New("connection refused")}, &testCache{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{pingErr: errors.New("redis down")})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_BothDegraded(t *testing.T) {
	h := healthHandler(
		&testStore{pingErr: errors.New("db down")},
		&testCache{pingErr: errors.New("redis down")},
	)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── object store selection tests ───────────────────────────────────────────

func TestNewObjectStore_Memory(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{PublicBaseURL: "http://localhost:8080"},
		Objstore: config.ObjstoreConfig{
			Mode:          "memory",
			SigningSecret: "test-secret",
			UploadTTL:     time.Minute,
		},
	}

	objects, err := newObjectStore(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := objects.(*objstore.MemoryStore)
	assert.True(t, ok, "expected a memory store, got %T", objects)
}

func TestNewObjectStore_UnknownMode(t *testing.T) {
	cfg := &config.Config{Objstore: config.ObjstoreConfig{Mode: "carrier-pigeon"}}

	_, err := newObjectStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "UPLOAD_SIGNING_SECRET",
	} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("VISION_PROVIDER", "mock")
	t.Setenv("UPLOAD_SIGNING_SECRET", "test-secret")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
