package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/menulens/api/internal/api/response"
	"github.com/menulens/api/internal/events"
	"github.com/menulens/api/internal/jobs"
	"github.com/menulens/api/internal/store"
	"github.com/menulens/api/pkg/models"
)

// ScanJobs is the job service surface the job handlers call.
type ScanJobs interface {
	CreateJob(ctx context.Context, p jobs.CreateParams) (*models.ScanJob, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error)
	GetSnapshot(ctx context.Context, jobID uuid.UUID) (*models.Snapshot, error)
}

type userPreferences struct {
	Language string `json:"language"`
}

type createJobRequest struct {
	ImageRef string `json:"image_ref"`
	// GCSURI is the legacy name for ImageRef; older clients still send it.
	GCSURI          string           `json:"gcs_uri"`
	UserPreferences userPreferences  `json:"user_preferences"`
	PushToken       string           `json:"push_token"`
	Location        *models.GeoPoint `json:"location"`
}

type createJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// NewCreateScanJobHandler returns the handler for POST /api/v1/scan/jobs.
func NewCreateScanJobHandler(svc ScanJobs, defaultLanguage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		imageRef := req.ImageRef
		if imageRef == "" {
			imageRef = req.GCSURI
		}
		if imageRef == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "image_ref is required", nil)
			return
		}

		lang := req.UserPreferences.Language
		if lang == "" {
			lang = defaultLanguage
		}
		if _, err := language.Parse(lang); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("language %q is not a valid BCP 47 tag", lang), nil)
			return
		}

		if loc := req.Location; loc != nil {
			if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"location is out of range", nil)
				return
			}
		}

		job, err := svc.CreateJob(r.Context(), jobs.CreateParams{
			ImageRef:  imageRef,
			Language:  lang,
			PushToken: req.PushToken,
			Location:  req.Location,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to queue scan job", nil)
			return
		}

		response.Accepted(w, createJobResponse{JobID: job.ID.String(), Status: job.Status})
	}
}

// NewJobSnapshotHandler returns the handler for GET /api/v1/scan/jobs/{jobID}.
func NewJobSnapshotHandler(svc ScanJobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job id must be a UUID", nil)
			return
		}

		snap, err := svc.GetSnapshot(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load job", nil)
			return
		}

		response.JSON(w, snap)
	}
}

// NewScanEventsHandler returns the handler for
// GET /api/v1/scan/jobs/{jobID}/events, the resumable SSE stream.
func NewScanEventsHandler(svc ScanJobs, streamer *events.Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job id must be a UUID", nil)
			return
		}

		if _, err := svc.GetJob(r.Context(), jobID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load job", nil)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED",
				"Streaming is not supported by this connection", nil)
			return
		}

		afterSeq := lastEventID(r)

		setStreamHeaders(w)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		// Errors past this point cannot change the response; the client
		// reconnects with its last seen id and replays from there.
		_ = streamer.Stream(r.Context(), jobID, afterSeq, func(f events.Frame) error {
			return writeFrame(w, flusher, f)
		})
	}
}

// lastEventID reads the resume position from the query, falling back to the
// standard SSE reconnect header. Unparseable values mean "from the start",
// matching the lenient behavior clients already rely on.
func lastEventID(r *http.Request) int64 {
	raw := r.URL.Query().Get("last_event_id")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

func setStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// writeFrame writes one SSE frame. Transport signals carry no seq and so
// no id line; clients must not treat them as resume positions.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, f events.Frame) error {
	if f.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", f.Seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, f.Payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
