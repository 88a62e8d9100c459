package models

import (
	"time"

	"github.com/google/uuid"
)

// Scan job lifecycle states. A job moves queued -> running -> one of the
// three terminal states and never leaves a terminal state.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusPartial   = "partial"
	JobStatusFailed    = "failed"
)

// IsTerminalStatus reports whether a job status is final.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusPartial, JobStatusFailed:
		return true
	}
	return false
}

// ScanJob is one asynchronous menu scan. LastSeq is the high-water mark of
// the job's event log; it is only ever advanced by the store.
type ScanJob struct {
	ID        uuid.UUID `db:"id" json:"job_id"`
	Status    string    `db:"status" json:"status"`
	ImageRef  string    `db:"image_ref" json:"-"`
	Language  string    `db:"language" json:"-"`
	PushToken *string   `db:"push_token" json:"-"`
	LastSeq   int64     `db:"last_seq" json:"-"`
	ErrorCode *string   `db:"error_code" json:"error_code,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	ExpiresAt time.Time `db:"expires_at" json:"-"`
}

// Snapshot is the current consolidated view of a job, maintained by folding
// menu_data and image_update events as they are appended. A client that
// cannot consume the stream can poll this instead.
type Snapshot struct {
	JobID     uuid.UUID  `db:"job_id" json:"job_id"`
	Status    string     `db:"status" json:"status"`
	Items     []MenuItem `db:"items" json:"items"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	ExpiresAt time.Time  `db:"expires_at" json:"-"`
}

// GeoPoint is a client-reported device location. It is used only to derive a
// coarse geo cell for candidate narrowing and is never persisted raw.
type GeoPoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}
