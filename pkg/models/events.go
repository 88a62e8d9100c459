package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types carried on a job's event log. Heartbeat and timeout are
// transport-level signals: they are written to live streams but never
// persisted, so they carry no sequence number and are skipped on replay.
const (
	EventStatus      = "status"
	EventMenuData    = "menu_data"
	EventImageUpdate = "image_update"
	EventError       = "error"
	EventDone        = "done"
	EventHeartbeat   = "heartbeat"
	EventTimeout     = "timeout"
)

// Error codes surfaced to clients in error events and on failed jobs.
const (
	ErrCodeNotMenu           = "IMAGE_NOT_MENU"
	ErrCodeTooBlurry         = "IMAGE_TOO_BLURRY"
	ErrCodeVLMFailed         = "VLM_FAILED"
	ErrCodeVLMTimeout        = "VLM_TIMEOUT"
	ErrCodeImageGenFailed    = "IMAGE_GEN_FAILED"
	ErrCodeUpstreamTimeout   = "UPSTREAM_TIMEOUT"
	ErrCodeImageFetchFailed  = "IMAGE_FETCH_FAILED"
	ErrCodeTaskEnqueueFailed = "TASK_ENQUEUE_FAILED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// ScanEvent is one persisted row of a job's append-only event log. Seq is
// assigned by the store, starts at 1 per job, and has no gaps.
type ScanEvent struct {
	JobID     uuid.UUID       `db:"job_id" json:"-"`
	Seq       int64           `db:"seq" json:"seq"`
	Type      string          `db:"event_type" json:"type"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt time.Time       `db:"expires_at" json:"-"`
}

// StatusPayload announces a coarse pipeline step in user language.
type StatusPayload struct {
	Step      string `json:"step"`
	Message   string `json:"message"`
	Progress  *int   `json:"progress,omitempty"`
	SessionID string `json:"session_id"`
}

// MenuDataPayload carries the full cumulative item list. Each menu_data
// event supersedes the previous one; IsPartial marks lists that still
// contain unresolved items.
type MenuDataPayload struct {
	SessionID string     `json:"session_id"`
	Items     []MenuItem `json:"items"`
	IsPartial bool       `json:"is_partial,omitempty"`
}

// ImageUpdatePayload patches the image fields of a single item.
type ImageUpdatePayload struct {
	SessionID   string `json:"session_id"`
	ItemID      string `json:"item_id"`
	ImageStatus string `json:"image_status"`
	ImageURL    string `json:"image_url,omitempty"`
}

// ErrorPayload reports a failure. Recoverable tells the client whether a
// retry of the same image could plausibly succeed.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// ScanSummary is the final accounting attached to the done event.
// UnknownItemsCount counts items left without a translation.
type ScanSummary struct {
	ElapsedMS         int64 `json:"elapsed_ms"`
	ItemsCount        int   `json:"items_count"`
	UsedCache         bool  `json:"used_cache"`
	UsedFallback      bool  `json:"used_fallback"`
	UnknownItemsCount int   `json:"unknown_items_count"`
}

// DonePayload terminates a job's event log. Every job emits exactly one,
// always last.
type DonePayload struct {
	Status    string      `json:"status"`
	SessionID string      `json:"session_id"`
	Summary   ScanSummary `json:"summary"`
}

// HeartbeatPayload is the keep-alive signal for live streams.
type HeartbeatPayload struct {
	TS string `json:"ts"`
}

// TimeoutPayload tells a stream consumer to reconnect with its last seen
// event id after the server-side wait window elapsed.
type TimeoutPayload struct {
	Message string `json:"message"`
}
