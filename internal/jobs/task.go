package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/menulens/api/pkg/models"
)

// TypeScanRun is the task type for running one scan job.
const TypeScanRun = "scan:run"

// ScanTaskPayload is the task body placed on the queue. The image itself
// stays in object storage; only its reference travels through Redis.
// Location is queue-only and is lost if the janitor has to rebuild the
// task from the job row.
type ScanTaskPayload struct {
	JobID     uuid.UUID        `json:"job_id"`
	ImageRef  string           `json:"image_ref"`
	Language  string           `json:"language"`
	PushToken string           `json:"push_token,omitempty"`
	Location  *models.GeoPoint `json:"location,omitempty"`
}

// NewScanTask builds the queue task for one scan job.
func NewScanTask(p ScanTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling scan task payload: %w", err)
	}
	return asynq.NewTask(TypeScanRun, data), nil
}

// ParseScanTask decodes a task body back into its payload.
func ParseScanTask(t *asynq.Task) (ScanTaskPayload, error) {
	var p ScanTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshaling scan task payload: %w", err)
	}
	if p.JobID == uuid.Nil {
		return p, fmt.Errorf("scan task payload has no job id")
	}
	return p, nil
}
