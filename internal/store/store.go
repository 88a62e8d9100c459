package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/menulens/api/pkg/models"
)

// Common errors returned by the store layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store defines all persistence operations.
type Store interface {
	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// CreateScanJob inserts a new job together with its empty snapshot row.
	CreateScanJob(ctx context.Context, job *models.ScanJob) error

	// GetScanJob fetches a job by id. Returns ErrNotFound if missing.
	GetScanJob(ctx context.Context, id uuid.UUID) (*models.ScanJob, error)

	// ClaimScanJob atomically moves a job to running. It succeeds for queued
	// jobs and for running jobs not touched since staleBefore (a worker that
	// died mid-run); a false return means another worker holds the job.
	ClaimScanJob(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error)

	// UpdateJobStatus transitions a job, enforcing the lifecycle state machine.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error

	// ListStaleScanJobs returns non-terminal jobs not touched since staleBefore.
	ListStaleScanJobs(ctx context.Context, staleBefore time.Time, limit int) ([]*models.ScanJob, error)

	// AppendEvent atomically assigns the next sequence number for the job and
	// inserts the event row. Payload must be valid JSON. Returns the assigned
	// seq, or ErrNotFound if the job does not exist.
	AppendEvent(ctx context.Context, jobID uuid.UUID, eventType string, payload []byte, expiresAt time.Time) (int64, error)

	// ListEventsAfter returns the job's events with seq > afterSeq in seq
	// order. A limit <= 0 means no limit.
	ListEventsAfter(ctx context.Context, jobID uuid.UUID, afterSeq int64, limit int) ([]*models.ScanEvent, error)

	// GetSnapshot fetches the consolidated view of a job.
	GetSnapshot(ctx context.Context, jobID uuid.UUID) (*models.Snapshot, error)

	// UpdateSnapshot replaces the snapshot's status and item list.
	UpdateSnapshot(ctx context.Context, jobID uuid.UUID, status string, items []models.MenuItem) error

	// FetchDishKnowledge returns known rows for the given keys in the given
	// language, keyed by dish key. Missing keys are simply absent.
	FetchDishKnowledge(ctx context.Context, language string, dishKeys []string) (map[string]*models.DishKnowledge, error)

	// UpsertDishKnowledge merges rows into the knowledge base and returns the
	// number of rows written. Existing non-empty fields are never overwritten.
	UpsertDishKnowledge(ctx context.Context, rows []*models.DishKnowledge) (int, error)

	// InsertScanRecord stores a finished scan's trace. Inserts are idempotent
	// per scan id; the return reports whether a new row was written.
	InsertScanRecord(ctx context.Context, rec *models.ScanRecord) (bool, error)

	// ListScanRecordsByHash returns prior scans of a byte-identical image.
	ListScanRecordsByHash(ctx context.Context, imageHash string, limit int) ([]*models.ScanRecord, error)

	// ListScanRecordsByGeoCells returns prior scans indexed in any of the cells.
	ListScanRecordsByGeoCells(ctx context.Context, cells []string, limit int) ([]*models.ScanRecord, error)

	// PurgeExpired removes rows whose retention window has passed and returns
	// the number of rows deleted.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// JobUpdate holds optional fields for UpdateJobStatus. Exported so fake
// stores in tests can resolve the options the same way real ones do.
type JobUpdate struct {
	ErrorCode *string
}

// JobUpdateOption customizes a job status update.
type JobUpdateOption func(*JobUpdate)

// WithErrorCode records the failure code on the job row.
func WithErrorCode(code string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorCode = &code
	}
}

// ResolveJobUpdate folds options into a JobUpdate.
func ResolveJobUpdate(opts []JobUpdateOption) JobUpdate {
	var p JobUpdate
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
