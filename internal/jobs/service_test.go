package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/internal/jobs"
	"github.com/menulens/api/internal/match"
	"github.com/menulens/api/internal/objstore"
	"github.com/menulens/api/internal/scan"
	"github.com/menulens/api/internal/store"
	"github.com/menulens/api/internal/vision/mock"
	"github.com/menulens/api/pkg/models"
)

type statusChange struct {
	jobID  uuid.UUID
	status string
	code   string
}

// stubStore is an in-memory store.Store. It does not enforce the status
// state machine; the tests assert on the transitions the service requests.
type stubStore struct {
	mu sync.Mutex

	jobs      map[uuid.UUID]*models.ScanJob
	events    map[uuid.UUID][]*models.ScanEvent
	snapshots map[uuid.UUID]*models.Snapshot
	knowledge map[string]*models.DishKnowledge
	stale     []*models.ScanJob

	claimDenied bool
	purgeErr    error
	purged      int64

	snapReads int
	statusLog []statusChange
	upserted  []*models.DishKnowledge
	inserted  []*models.ScanRecord
}

func newStubStore() *stubStore {
	return &stubStore{
		jobs:      make(map[uuid.UUID]*models.ScanJob),
		events:    make(map[uuid.UUID][]*models.ScanEvent),
		snapshots: make(map[uuid.UUID]*models.Snapshot),
		knowledge: make(map[string]*models.DishKnowledge),
	}
}

func (s *stubStore) Ping(context.Context) error { return nil }

func (s *stubStore) CreateScanJob(_ context.Context, job *models.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	s.snapshots[job.ID] = &models.Snapshot{JobID: job.ID, Status: job.Status, Items: []models.MenuItem{}}
	return nil
}

func (s *stubStore) GetScanJob(_ context.Context, id uuid.UUID) (*models.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *stubStore) ClaimScanJob(_ context.Context, id uuid.UUID, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimDenied {
		return false, nil
	}
	job, ok := s.jobs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if models.IsTerminalStatus(job.Status) {
		return false, nil
	}
	job.Status = models.JobStatusRunning
	return true, nil
}

func (s *stubStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	change := statusChange{jobID: id, status: status}
	if p := store.ResolveJobUpdate(opts); p.ErrorCode != nil {
		job.ErrorCode = p.ErrorCode
		change.code = *p.ErrorCode
	}
	s.statusLog = append(s.statusLog, change)
	return nil
}

func (s *stubStore) ListStaleScanJobs(context.Context, time.Time, int) ([]*models.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale, nil
}

func (s *stubStore) AppendEvent(_ context.Context, jobID uuid.UUID, eventType string, payload []byte, expiresAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := int64(len(s.events[jobID]) + 1)
	s.events[jobID] = append(s.events[jobID], &models.ScanEvent{
		JobID:     jobID,
		Seq:       seq,
		Type:      eventType,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	})
	return seq, nil
}

func (s *stubStore) ListEventsAfter(_ context.Context, jobID uuid.UUID, afterSeq int64, limit int) ([]*models.ScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScanEvent
	for _, ev := range s.events[jobID] {
		if ev.Seq <= afterSeq {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) GetSnapshot(_ context.Context, jobID uuid.UUID) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapReads++
	snap, ok := s.snapshots[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

func (s *stubStore) UpdateSnapshot(_ context.Context, jobID uuid.UUID, status string, items []models.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[jobID] = &models.Snapshot{
		JobID:  jobID,
		Status: status,
		Items:  append([]models.MenuItem(nil), items...),
	}
	return nil
}

func (s *stubStore) FetchDishKnowledge(_ context.Context, language string, dishKeys []string) (map[string]*models.DishKnowledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.DishKnowledge)
	for _, key := range dishKeys {
		if row, ok := s.knowledge[key]; ok && row.Language == language {
			out[key] = row
		}
	}
	return out, nil
}

func (s *stubStore) UpsertDishKnowledge(_ context.Context, rows []*models.DishKnowledge) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, rows...)
	return len(rows), nil
}

func (s *stubStore) InsertScanRecord(_ context.Context, rec *models.ScanRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, rec)
	return true, nil
}

func (s *stubStore) ListScanRecordsByHash(context.Context, string, int) ([]*models.ScanRecord, error) {
	return nil, nil
}

func (s *stubStore) ListScanRecordsByGeoCells(context.Context, []string, int) ([]*models.ScanRecord, error) {
	return nil, nil
}

func (s *stubStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgeErr != nil {
		return 0, s.purgeErr
	}
	return s.purged, nil
}

func (s *stubStore) eventTypes(jobID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events[jobID]))
	for i, ev := range s.events[jobID] {
		out[i] = ev.Type
	}
	return out
}

func (s *stubStore) lastChange() (statusChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statusLog) == 0 {
		return statusChange{}, false
	}
	return s.statusLog[len(s.statusLog)-1], true
}

func (s *stubStore) snapshotReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapReads
}

type stubCache struct {
	mu          sync.Mutex
	kv          map[string][]byte
	snaps       map[uuid.UUID][]byte
	counters    map[string]int64
	invalidated []uuid.UUID
}

func newStubCache() *stubCache {
	return &stubCache{
		kv:       make(map[string][]byte),
		snaps:    make(map[uuid.UUID][]byte),
		counters: make(map[string]int64),
	}
}

func (c *stubCache) Ping(context.Context) error { return nil }

func (c *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value
	return nil
}

func (c *stubCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.kv[key]
	return v, ok, nil
}

func (c *stubCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	return nil
}

func (c *stubCache) SetSnapshot(_ context.Context, jobID uuid.UUID, data []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[jobID] = data
	return nil
}

func (c *stubCache) GetSnapshot(_ context.Context, jobID uuid.UUID) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.snaps[jobID]
	return v, ok, nil
}

func (c *stubCache) InvalidateSnapshot(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, jobID)
	c.invalidated = append(c.invalidated, jobID)
	return nil
}

func (c *stubCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *stubCache) seedSnapshot(jobID uuid.UUID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[jobID] = data
}

type pushedNote struct {
	token, title, body string
	data               map[string]string
}

type stubPusher struct {
	mu    sync.Mutex
	notes []pushedNote
	err   error
}

func (p *stubPusher) Push(_ context.Context, token, title, body string, data map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.notes = append(p.notes, pushedNote{token, title, body, data})
	return nil
}

func (p *stubPusher) sent() []pushedNote {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushedNote(nil), p.notes...)
}

type stubEnqueuer struct {
	mu       sync.Mutex
	tasks    []*asynq.Task
	opts     [][]asynq.Option
	errQueue []error
}

func (e *stubEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errQueue) > 0 {
		err := e.errQueue[0]
		e.errQueue = e.errQueue[1:]
		if err != nil {
			return nil, err
		}
	}
	e.tasks = append(e.tasks, task)
	e.opts = append(e.opts, opts)
	return &asynq.TaskInfo{ID: uuid.NewString(), Queue: "scans", Type: task.Type()}, nil
}

func (e *stubEnqueuer) enqueued() []*asynq.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*asynq.Task(nil), e.tasks...)
}

func jobsConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{PublicBaseURL: "http://localhost:8080"},
		Vision:    config.VisionConfig{CallTimeout: 2 * time.Second, ImageTimeout: 2 * time.Second},
		Budget:    config.BudgetConfig{FirstResultTarget: 30 * time.Second, HardCap: 60 * time.Second},
		Match:     config.MatchConfig{GeoRadiusMinMeters: 200, SimilarityThreshold: 0.99, CandidateLimit: 20},
		Queue:     config.QueueConfig{Name: "scans", Concurrency: 2, MaxRetry: 3, Retention: time.Hour},
		Janitor:   config.JanitorConfig{Schedule: "@every 5m", StaleGrace: time.Minute},
		Retention: config.RetentionConfig{EventsTTL: time.Hour, SnapshotsTTL: 24 * time.Hour},
	}
}

type testEnv struct {
	cfg      *config.Config
	store    *stubStore
	cache    *stubCache
	objects  *objstore.MemoryStore
	enqueuer *stubEnqueuer
	pusher   *stubPusher
	svc      *jobs.Service
	imageRef string
}

func newTestEnv(t *testing.T, provider models.VisionProvider) *testEnv {
	t.Helper()
	cfg := jobsConfig()
	st := newStubStore()
	c := newStubCache()
	objects := objstore.NewMemoryStore(cfg.Server.PublicBaseURL, objstore.NewUploadSigner("test-secret"), time.Minute)
	uri, err := objects.Put(context.Background(), "uploads/menu.jpg", mock.OnePixelJPEG(), "image/jpeg")
	require.NoError(t, err)

	matcher := match.NewMatcher(st, nil, cfg.Match)
	pipeline := scan.NewPipeline(cfg, provider, nil, matcher, st, objects)
	enqueuer := &stubEnqueuer{}
	pusher := &stubPusher{}
	return &testEnv{
		cfg:      cfg,
		store:    st,
		cache:    c,
		objects:  objects,
		enqueuer: enqueuer,
		pusher:   pusher,
		svc:      jobs.NewService(cfg, st, c, objects, pipeline, enqueuer, pusher),
		imageRef: uri,
	}
}

func (env *testEnv) seedJob(t *testing.T, status string) *models.ScanJob {
	t.Helper()
	token := "ExponentPushToken[test]"
	job := &models.ScanJob{
		ID:        uuid.New(),
		Status:    status,
		ImageRef:  env.imageRef,
		Language:  "zh-TW",
		PushToken: &token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, env.store.CreateScanJob(context.Background(), job))
	return job
}

func (env *testEnv) taskFor(t *testing.T, job *models.ScanJob) *asynq.Task {
	t.Helper()
	task, err := jobs.NewScanTask(jobs.ScanTaskPayload{
		JobID:    job.ID,
		ImageRef: job.ImageRef,
		Language: job.Language,
	})
	require.NoError(t, err)
	return task
}

func (env *testEnv) seedEvent(t *testing.T, jobID uuid.UUID, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = env.store.AppendEvent(context.Background(), jobID, eventType, data, time.Now().Add(time.Hour))
	require.NoError(t, err)
}

func TestCreateJob_PersistsAndEnqueues(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	ctx := context.Background()

	job, err := env.svc.CreateJob(ctx, jobs.CreateParams{
		ImageRef:  env.imageRef,
		Language:  "zh-TW",
		PushToken: "ExponentPushToken[test]",
		Location:  &models.GeoPoint{Lat: 25.03, Lon: 121.56},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	require.NotNil(t, job.PushToken)

	stored, err := env.store.GetScanJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, env.imageRef, stored.ImageRef)

	tasks := env.enqueuer.enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, jobs.TypeScanRun, tasks[0].Type())
	payload, err := jobs.ParseScanTask(tasks[0])
	require.NoError(t, err)
	assert.Equal(t, job.ID, payload.JobID)
	require.NotNil(t, payload.Location)
	assert.Len(t, env.enqueuer.opts[0], 4, "queue, retry, timeout and retention are always set")
}

func TestCreateJob_EnqueueFailureFailsJob(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	env.enqueuer.errQueue = []error{errors.New("redis down")}

	_, err := env.svc.CreateJob(context.Background(), jobs.CreateParams{
		ImageRef: env.imageRef,
		Language: "zh-TW",
	})
	require.Error(t, err)

	change, ok := env.store.lastChange()
	require.True(t, ok, "the orphaned job must be failed")
	assert.Equal(t, models.JobStatusFailed, change.status)
	assert.Equal(t, models.ErrCodeTaskEnqueueFailed, change.code)
}

func TestHandleScanTask_RunsToCompletion(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	ctx := context.Background()

	job, err := env.svc.CreateJob(ctx, jobs.CreateParams{
		ImageRef:  env.imageRef,
		Language:  "zh-TW",
		PushToken: "ExponentPushToken[test]",
	})
	require.NoError(t, err)

	tasks := env.enqueuer.enqueued()
	require.Len(t, tasks, 1)
	require.NoError(t, env.svc.HandleScanTask(ctx, tasks[0]))

	change, ok := env.store.lastChange()
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, change.status)
	assert.Empty(t, change.code)

	types := env.store.eventTypes(job.ID)
	require.NotEmpty(t, types)
	assert.Equal(t, models.EventStatus, types[0])
	assert.Equal(t, models.EventDone, types[len(types)-1])

	snap, err := env.store.GetSnapshot(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, snap.Status)
	assert.Len(t, snap.Items, 4)

	notes := env.pusher.sent()
	require.Len(t, notes, 1)
	assert.Equal(t, "ExponentPushToken[test]", notes[0].token)
	assert.Equal(t, "菜單翻譯完成！", notes[0].title)
	assert.Equal(t, "已翻譯 4 道菜品", notes[0].body)
	assert.Equal(t, job.ID.String(), notes[0].data["job_id"])
	assert.Equal(t, models.JobStatusCompleted, notes[0].data["status"])
}

func TestHandleScanTask_TerminalJobAcks(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	job := env.seedJob(t, models.JobStatusCompleted)

	require.NoError(t, env.svc.HandleScanTask(context.Background(), env.taskFor(t, job)))

	assert.Empty(t, env.store.eventTypes(job.ID), "a finished job is not re-run")
	_, changed := env.store.lastChange()
	assert.False(t, changed)
}

func TestHandleScanTask_UnknownJobAcks(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	task, err := jobs.NewScanTask(jobs.ScanTaskPayload{
		JobID:    uuid.New(),
		ImageRef: env.imageRef,
		Language: "zh-TW",
	})
	require.NoError(t, err)

	assert.NoError(t, env.svc.HandleScanTask(context.Background(), task),
		"a task whose job row is gone is dropped, not retried")
}

func TestHandleScanTask_ClaimDeniedAcks(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	job := env.seedJob(t, models.JobStatusQueued)
	env.store.claimDenied = true

	require.NoError(t, env.svc.HandleScanTask(context.Background(), env.taskFor(t, job)))
	assert.Empty(t, env.store.eventTypes(job.ID), "losing the claim means another worker runs the scan")
}

func TestHandleScanTask_MalformedPayloadSkipsRetry(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	task := asynq.NewTask(jobs.TypeScanRun, []byte(`{broken`))

	err := env.svc.HandleScanTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleScanTask_RepairsFinishedLog(t *testing.T) {
	// The previous attempt finished its event log but died before updating
	// the job row. The retry must repair the row without running the scan;
	// the failing provider proves no model call happens.
	env := newTestEnv(t, mock.NewFailingProvider(models.ErrProviderUnavailable))
	job := env.seedJob(t, models.JobStatusRunning)

	items := []models.MenuItem{
		{ID: "item-1", OriginalName: "親子丼", TranslatedName: "親子丼（雞肉滑蛋蓋飯）", Tags: []string{}},
		{ID: "item-2", OriginalName: "謎の料理", Tags: []string{}},
	}
	env.seedEvent(t, job.ID, models.EventMenuData, models.MenuDataPayload{SessionID: job.ID.String(), Items: items})
	env.seedEvent(t, job.ID, models.EventDone, models.DonePayload{
		Status:    models.JobStatusPartial,
		SessionID: job.ID.String(),
		Summary:   models.ScanSummary{ItemsCount: 2, UnknownItemsCount: 1},
	})

	require.NoError(t, env.svc.HandleScanTask(context.Background(), env.taskFor(t, job)))

	change, ok := env.store.lastChange()
	require.True(t, ok)
	assert.Equal(t, models.JobStatusPartial, change.status)
	assert.Len(t, env.store.eventTypes(job.ID), 2, "repair appends nothing")

	snap, err := env.store.GetSnapshot(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartial, snap.Status)
	assert.Len(t, snap.Items, 2)

	notes := env.pusher.sent()
	require.Len(t, notes, 1, "the device still learns the scan finished")
	assert.Equal(t, "已翻譯 1 道菜品", notes[0].body)
}

func TestHandleScanTask_ResumesFromLog(t *testing.T) {
	base := mock.NewProvider()
	provider := &mock.MockProvider{
		Name_: "mock",
		ExtractFunc: func(context.Context, models.ExtractRequest) (*models.ExtractResult, error) {
			return nil, errors.New("extraction must not run when the log already has items")
		},
		TranslateFunc: base.TranslateDishes,
		ImageFunc:     base.GenerateDishImage,
	}
	env := newTestEnv(t, provider)
	job := env.seedJob(t, models.JobStatusQueued)

	items := []models.MenuItem{
		{ID: "item-1", OriginalName: "親子丼", TranslatedName: "親子丼（雞肉滑蛋蓋飯）", Tags: []string{}},
		{ID: "item-2", OriginalName: "冷奴", Tags: []string{}},
	}
	env.seedEvent(t, job.ID, models.EventMenuData, models.MenuDataPayload{SessionID: job.ID.String(), Items: items})

	require.NoError(t, env.svc.HandleScanTask(context.Background(), env.taskFor(t, job)))

	change, ok := env.store.lastChange()
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, change.status)

	snap, err := env.store.GetSnapshot(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "item-1", snap.Items[0].ID, "item ids survive the retry")
	assert.Equal(t, "item-2", snap.Items[1].ID)
	assert.True(t, snap.Items[1].Resolved())
}

func TestHandleScanTask_MissingImageFailsJob(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	token := "ExponentPushToken[test]"
	job := &models.ScanJob{
		ID:        uuid.New(),
		Status:    models.JobStatusQueued,
		ImageRef:  "mem://uploads/gone.jpg",
		Language:  "zh-TW",
		PushToken: &token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, env.store.CreateScanJob(context.Background(), job))

	require.NoError(t, env.svc.HandleScanTask(context.Background(), env.taskFor(t, job)))

	change, ok := env.store.lastChange()
	require.True(t, ok)
	assert.Equal(t, models.JobStatusFailed, change.status)
	assert.Equal(t, models.ErrCodeImageFetchFailed, change.code)

	types := env.store.eventTypes(job.ID)
	require.Equal(t, []string{models.EventError, models.EventDone}, types)

	assert.Empty(t, env.pusher.sent(), "failures are not announced by push")
}

func TestGetSnapshot_ServesFromCacheAfterFirstRead(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	ctx := context.Background()
	job := env.seedJob(t, models.JobStatusRunning)
	items := []models.MenuItem{{ID: "item-1", OriginalName: "親子丼", Tags: []string{}}}
	require.NoError(t, env.store.UpdateSnapshot(ctx, job.ID, models.JobStatusRunning, items))

	first, err := env.svc.GetSnapshot(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	reads := env.store.snapshotReads()

	second, err := env.svc.GetSnapshot(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, reads, env.store.snapshotReads(), "second read comes from cache")
	assert.Equal(t, first.Items, second.Items)
}

func TestGetSnapshot_CorruptCacheFallsThrough(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	ctx := context.Background()
	job := env.seedJob(t, models.JobStatusRunning)
	env.cache.seedSnapshot(job.ID, []byte(`{not json`))

	snap, err := env.svc.GetSnapshot(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, snap.JobID)
}

func TestGetSnapshot_UnknownJob(t *testing.T) {
	env := newTestEnv(t, mock.NewProvider())
	_, err := env.svc.GetSnapshot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
