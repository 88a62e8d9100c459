package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/internal/store"
)

const (
	sweepTimeout   = 2 * time.Minute
	staleBatchSize = 50
)

// Janitor periodically purges expired rows and revives jobs whose worker
// died mid-scan. Revived jobs go back through the queue so the normal
// claim-and-resume path handles them.
type Janitor struct {
	cfg      *config.Config
	store    store.Store
	enqueuer TaskEnqueuer
	cron     *cron.Cron
}

func NewJanitor(cfg *config.Config, st store.Store, enqueuer TaskEnqueuer) *Janitor {
	return &Janitor{
		cfg:      cfg,
		store:    st,
		enqueuer: enqueuer,
		cron:     cron.New(),
	}
}

// Start schedules periodic sweeps. Run Sweep once before Start to clear
// anything that went stale while the process was down.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.Janitor.Schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	slog.Info("janitor started", "schedule", j.cfg.Janitor.Schedule)
	return nil
}

// Stop waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs one purge-and-requeue pass.
func (j *Janitor) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	purged, err := j.store.PurgeExpired(ctx, time.Now())
	if err != nil {
		slog.Error("retention purge failed", "error", err)
	} else if purged > 0 {
		slog.Info("purged expired rows", "rows", purged)
	}

	j.requeueStale(ctx)
}

func (j *Janitor) requeueStale(ctx context.Context) {
	staleBefore := time.Now().Add(-j.cfg.Janitor.StaleGrace)
	stale, err := j.store.ListStaleScanJobs(ctx, staleBefore, staleBatchSize)
	if err != nil {
		slog.Error("listing stale jobs failed", "error", err)
		return
	}

	for _, job := range stale {
		// Location is not kept on the job row, so a revived scan skips the
		// geo candidate lookup.
		task, err := NewScanTask(ScanTaskPayload{
			JobID:     job.ID,
			ImageRef:  job.ImageRef,
			Language:  job.Language,
			PushToken: derefString(job.PushToken),
		})
		if err != nil {
			slog.Error("building revival task failed", "job_id", job.ID, "error", err)
			continue
		}
		if _, err := j.enqueuer.Enqueue(task, taskOptions(j.cfg)...); err != nil {
			slog.Error("requeueing stale job failed", "job_id", job.ID, "error", err)
			continue
		}
		slog.Info("requeued stale job", "job_id", job.ID, "status", job.Status)
	}
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
