package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/menulens/api/pkg/models"
)

// Sink receives the events a pipeline run produces, in order.
type Sink interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, eventType string, payload any) error

func (f SinkFunc) Emit(ctx context.Context, eventType string, payload any) error {
	return f(ctx, eventType, payload)
}

// RecorderStore is the slice of the store a Recorder writes through.
type RecorderStore interface {
	AppendEvent(ctx context.Context, jobID uuid.UUID, eventType string, payload []byte, expiresAt time.Time) (int64, error)
	UpdateSnapshot(ctx context.Context, jobID uuid.UUID, status string, items []models.MenuItem) error
}

// SnapshotCache invalidates a job's cached snapshot after the durable copy
// moved. A nil cache disables invalidation.
type SnapshotCache interface {
	InvalidateSnapshot(ctx context.Context, jobID uuid.UUID) error
}

// Recorder is the production Sink: every event lands in the job's event log,
// and menu_data / image_update events are folded into the snapshot row so
// polling clients see the same state as stream consumers. An append failure
// is fatal to the run; snapshot and cache maintenance are best effort.
type Recorder struct {
	store     RecorderStore
	cache     SnapshotCache
	jobID     uuid.UUID
	eventsTTL time.Duration

	items []models.MenuItem
}

func NewRecorder(store RecorderStore, cache SnapshotCache, jobID uuid.UUID, eventsTTL time.Duration) *Recorder {
	return &Recorder{store: store, cache: cache, jobID: jobID, eventsTTL: eventsTTL}
}

func (r *Recorder) Emit(ctx context.Context, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	expiresAt := time.Now().Add(r.eventsTTL)
	if _, err := r.store.AppendEvent(ctx, r.jobID, eventType, raw, expiresAt); err != nil {
		return fmt.Errorf("appending %s event: %w", eventType, err)
	}

	switch p := payload.(type) {
	case models.MenuDataPayload:
		r.items = append([]models.MenuItem(nil), p.Items...)
		r.syncSnapshot(ctx)
	case models.ImageUpdatePayload:
		// An image update without a preceding menu_data means we resumed
		// without replaying items; leave the stored snapshot alone rather
		// than fold against an empty list.
		if len(r.items) == 0 {
			break
		}
		for i := range r.items {
			if r.items[i].ID != p.ItemID {
				continue
			}
			r.items[i].ImageStatus = p.ImageStatus
			if p.ImageURL != "" {
				r.items[i].ImageURL = p.ImageURL
			}
			break
		}
		r.syncSnapshot(ctx)
	}
	return nil
}

func (r *Recorder) syncSnapshot(ctx context.Context) {
	if err := r.store.UpdateSnapshot(ctx, r.jobID, models.JobStatusRunning, r.items); err != nil {
		slog.Warn("snapshot update failed", "job_id", r.jobID, "error", err)
		return
	}
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateSnapshot(ctx, r.jobID); err != nil {
		slog.Warn("snapshot cache invalidation failed", "job_id", r.jobID, "error", err)
	}
}
