// Package jobs owns the scan job lifecycle around the pipeline: creating
// and queueing jobs, executing queue tasks exactly-once per terminal state,
// recovering interrupted attempts from the event log, and notifying the
// device when a background scan finishes.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/menulens/api/internal/cache"
	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/internal/notify"
	"github.com/menulens/api/internal/objstore"
	"github.com/menulens/api/internal/scan"
	"github.com/menulens/api/internal/store"
	"github.com/menulens/api/pkg/models"
)

// taskGrace pads the queue-side task timeout past the scan hard cap so the
// pipeline always times out first and gets to write its own done event.
const taskGrace = 30 * time.Second

// snapshotCacheTTL bounds staleness if an invalidation is lost.
const snapshotCacheTTL = 15 * time.Second

// Push notification copy for finished background scans.
const (
	pushTitle   = "菜單翻譯完成！"
	pushBodyFmt = "已翻譯 %d 道菜品"
)

// TaskEnqueuer is the slice of the asynq client the service uses.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service coordinates scan jobs between the HTTP layer, the queue, and the
// pipeline.
type Service struct {
	cfg      *config.Config
	store    store.Store
	cache    cache.Cache
	objects  objstore.Store
	pipeline *scan.Pipeline
	enqueuer TaskEnqueuer
	pusher   notify.Pusher
}

// NewService wires the job service. pusher may be nil to disable push
// notifications.
func NewService(cfg *config.Config, st store.Store, c cache.Cache, objects objstore.Store, pipeline *scan.Pipeline, enqueuer TaskEnqueuer, pusher notify.Pusher) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		cache:    c,
		objects:  objects,
		pipeline: pipeline,
		enqueuer: enqueuer,
		pusher:   pusher,
	}
}

// CreateParams are the validated inputs for a new scan job.
type CreateParams struct {
	ImageRef  string
	Language  string
	PushToken string
	Location  *models.GeoPoint
}

// CreateJob persists a new job and enqueues its task. If the task cannot
// be queued the job row is failed immediately so clients are not left
// polling a job no worker will ever pick up.
func (s *Service) CreateJob(ctx context.Context, p CreateParams) (*models.ScanJob, error) {
	job := &models.ScanJob{
		ID:        uuid.New(),
		Status:    models.JobStatusQueued,
		ImageRef:  p.ImageRef,
		Language:  p.Language,
		ExpiresAt: time.Now().Add(s.cfg.Retention.SnapshotsTTL),
	}
	if p.PushToken != "" {
		token := p.PushToken
		job.PushToken = &token
	}
	if err := s.store.CreateScanJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating scan job: %w", err)
	}

	task, err := NewScanTask(ScanTaskPayload{
		JobID:     job.ID,
		ImageRef:  p.ImageRef,
		Language:  p.Language,
		PushToken: p.PushToken,
		Location:  p.Location,
	})
	if err != nil {
		return nil, err
	}
	info, err := s.enqueuer.Enqueue(task, taskOptions(s.cfg)...)
	if err != nil {
		if ferr := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
			store.WithErrorCode(models.ErrCodeTaskEnqueueFailed)); ferr != nil {
			slog.Error("failing unqueued job failed", "job_id", job.ID, "error", ferr)
		}
		return nil, fmt.Errorf("enqueueing scan task: %w", err)
	}

	slog.Info("scan job queued",
		"job_id", job.ID, "queue", info.Queue, "language", p.Language, "has_location", p.Location != nil)
	return job, nil
}

// taskOptions are the queue options every scan task is enqueued with,
// whether from job creation or a janitor revival.
func taskOptions(cfg *config.Config) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(cfg.Queue.Name),
		asynq.MaxRetry(cfg.Queue.MaxRetry),
		asynq.Timeout(cfg.Budget.HardCap + taskGrace),
		asynq.Retention(cfg.Queue.Retention),
	}
}

// GetJob fetches a job row.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	return s.store.GetScanJob(ctx, jobID)
}

// GetSnapshot returns a job's consolidated view, serving from cache when
// it can. Cache trouble never fails the read.
func (s *Service) GetSnapshot(ctx context.Context, jobID uuid.UUID) (*models.Snapshot, error) {
	if data, ok, err := s.cache.GetSnapshot(ctx, jobID); err != nil {
		slog.Warn("snapshot cache read failed", "job_id", jobID, "error", err)
	} else if ok {
		var snap models.Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return &snap, nil
		}
		slog.Warn("dropping corrupt snapshot cache entry", "job_id", jobID)
	}

	snap, err := s.store.GetSnapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(snap); err == nil {
		if err := s.cache.SetSnapshot(ctx, jobID, data, snapshotCacheTTL); err != nil {
			slog.Warn("snapshot cache write failed", "job_id", jobID, "error", err)
		}
	}
	return snap, nil
}

// HandleScanTask executes one queue task. A nil return acks the task; an
// error return lets asynq retry it. The claim plus the event log make
// retries and duplicate deliveries converge on a single terminal state.
func (s *Service) HandleScanTask(ctx context.Context, t *asynq.Task) error {
	payload, err := ParseScanTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	jobID := payload.JobID

	job, err := s.store.GetScanJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("task for unknown job", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if models.IsTerminalStatus(job.Status) {
		slog.Info("job already terminal", "job_id", jobID, "status", job.Status)
		return nil
	}

	fold, err := s.foldEventLog(ctx, jobID)
	if err != nil {
		return err
	}
	if fold.doneStatus != "" {
		// The previous attempt finished its log but died before moving the
		// job row; repair instead of re-running.
		slog.Info("repairing job row from finished log", "job_id", jobID, "status", fold.doneStatus)
		return s.finishJob(ctx, job, fold.doneStatus, fold.items, fold.errorCode)
	}

	image, err := s.objects.Fetch(ctx, job.ImageRef)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) || lastAttempt(ctx) {
			slog.Error("uploaded image unavailable", "job_id", jobID, "image_ref", job.ImageRef, "error", err)
			return s.failWithoutRun(ctx, job, models.ErrCodeImageFetchFailed, fold.items)
		}
		return fmt.Errorf("fetching image for %s: %w", jobID, err)
	}

	claimed, err := s.store.ClaimScanJob(ctx, jobID, s.staleBefore())
	if err != nil {
		return fmt.Errorf("claiming job %s: %w", jobID, err)
	}
	if !claimed {
		slog.Info("job held by another worker", "job_id", jobID)
		return nil
	}

	recorder := scan.NewRecorder(s.store, s.cache, jobID, s.cfg.Retention.EventsTTL)
	outcome, err := s.pipeline.Run(ctx, scan.Params{
		JobID:     jobID,
		ImageJPEG: image,
		Language:  job.Language,
		Location:  payload.Location,
		Resume:    fold.items,
	}, recorder)
	if err != nil {
		return fmt.Errorf("running scan %s: %w", jobID, err)
	}
	return s.finishJob(ctx, job, outcome.Status, outcome.Items, outcome.ErrorCode)
}

// foldResult is the state recovered from a job's event log.
type foldResult struct {
	items      []models.MenuItem
	doneStatus string
	errorCode  string
}

// foldEventLog replays the job's events into the last attempt's item list,
// and reports the done status if one already terminated the log.
func (s *Service) foldEventLog(ctx context.Context, jobID uuid.UUID) (foldResult, error) {
	var fold foldResult
	events, err := s.store.ListEventsAfter(ctx, jobID, 0, 0)
	if err != nil {
		return fold, fmt.Errorf("folding event log for %s: %w", jobID, err)
	}

	for _, ev := range events {
		switch ev.Type {
		case models.EventMenuData:
			var p models.MenuDataPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				slog.Warn("skipping corrupt menu_data event", "job_id", jobID, "seq", ev.Seq)
				continue
			}
			fold.items = p.Items
		case models.EventImageUpdate:
			var p models.ImageUpdatePayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				continue
			}
			for i := range fold.items {
				if fold.items[i].ID != p.ItemID {
					continue
				}
				fold.items[i].ImageStatus = p.ImageStatus
				if p.ImageURL != "" {
					fold.items[i].ImageURL = p.ImageURL
				}
				break
			}
		case models.EventError:
			var p models.ErrorPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				continue
			}
			fold.errorCode = p.Code
		case models.EventDone:
			var p models.DonePayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				continue
			}
			fold.doneStatus = p.Status
		}
	}
	return fold, nil
}

// failWithoutRun ends a job that cannot even start: the claim is taken,
// the log gets its error and done, and the row goes to failed.
func (s *Service) failWithoutRun(ctx context.Context, job *models.ScanJob, code string, items []models.MenuItem) error {
	claimed, err := s.store.ClaimScanJob(ctx, job.ID, s.staleBefore())
	if err != nil {
		return fmt.Errorf("claiming job %s: %w", job.ID, err)
	}
	if !claimed {
		return nil
	}

	recorder := scan.NewRecorder(s.store, s.cache, job.ID, s.cfg.Retention.EventsTTL)
	if err := recorder.Emit(ctx, models.EventError, scan.FailurePayload(code)); err != nil {
		return err
	}
	unknown := 0
	for i := range items {
		if !items[i].Resolved() {
			unknown++
		}
	}
	done := models.DonePayload{
		Status:    models.JobStatusFailed,
		SessionID: job.ID.String(),
		Summary:   models.ScanSummary{ItemsCount: len(items), UnknownItemsCount: unknown},
	}
	if err := recorder.Emit(ctx, models.EventDone, done); err != nil {
		return err
	}
	return s.finishJob(ctx, job, models.JobStatusFailed, items, code)
}

// finishJob moves the job row and snapshot to their terminal state and
// sends the push notification. Only the row update can fail the call; the
// rest is best effort.
func (s *Service) finishJob(ctx context.Context, job *models.ScanJob, status string, items []models.MenuItem, errorCode string) error {
	var opts []store.JobUpdateOption
	if errorCode != "" {
		opts = append(opts, store.WithErrorCode(errorCode))
	}
	if err := s.store.UpdateJobStatus(ctx, job.ID, status, opts...); err != nil {
		return fmt.Errorf("finishing job %s: %w", job.ID, err)
	}
	if err := s.store.UpdateSnapshot(ctx, job.ID, status, items); err != nil {
		slog.Warn("terminal snapshot update failed", "job_id", job.ID, "error", err)
	}
	if err := s.cache.InvalidateSnapshot(ctx, job.ID); err != nil {
		slog.Warn("snapshot cache invalidation failed", "job_id", job.ID, "error", err)
	}
	s.notifyDone(ctx, job, status, items)
	return nil
}

func (s *Service) notifyDone(ctx context.Context, job *models.ScanJob, status string, items []models.MenuItem) {
	if s.pusher == nil || job.PushToken == nil || *job.PushToken == "" {
		return
	}
	if status != models.JobStatusCompleted && status != models.JobStatusPartial {
		return
	}
	resolved := 0
	for i := range items {
		if items[i].Resolved() {
			resolved++
		}
	}
	data := map[string]string{"job_id": job.ID.String(), "status": status}
	if err := s.pusher.Push(ctx, *job.PushToken, pushTitle, fmt.Sprintf(pushBodyFmt, resolved), data); err != nil {
		slog.Warn("push notification failed", "job_id", job.ID, "error", err)
	}
}

func (s *Service) staleBefore() time.Time {
	return time.Now().Add(-s.cfg.Janitor.StaleGrace)
}

// lastAttempt reports whether asynq will not retry this task again. Missing
// retry metadata (a caller outside an asynq worker) counts as the last
// attempt.
func lastAttempt(ctx context.Context) bool {
	n, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return n >= max
}
