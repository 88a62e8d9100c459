package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/menulens/api/internal/api/response"
	"github.com/menulens/api/internal/events"
	"github.com/menulens/api/internal/scan"
	"github.com/menulens/api/pkg/models"
)

// ScanRunner runs one scan to completion, emitting its events through the
// sink as they happen.
type ScanRunner interface {
	Run(ctx context.Context, params scan.Params, sink scan.Sink) (*scan.Outcome, error)
}

type legacyScanRequest struct {
	ImageBase64     string          `json:"image_base64"`
	UserPreferences userPreferences `json:"user_preferences"`
}

const (
	errCodeInvalidImageBase64 = "INVALID_IMAGE_BASE64"
	msgInvalidImageBase64     = "圖片格式不正確，請重新拍攝/上傳"
)

// NewLegacyStreamHandler returns the handler for POST /api/v1/scan/stream,
// the pre-jobs single-shot endpoint. The whole pipeline runs inside the
// request and frames carry no id lines, so a dropped connection loses the
// scan instead of resuming it.
func NewLegacyStreamHandler(runner ScanRunner, defaultLanguage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "" && !strings.Contains(accept, "text/event-stream") {
			response.Error(w, http.StatusNotAcceptable, "NOT_ACCEPTABLE",
				"Client must send Accept: text/event-stream", nil)
			return
		}

		var req legacyScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		lang := req.UserPreferences.Language
		if lang == "" {
			lang = defaultLanguage
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED",
				"Streaming is not supported by this connection", nil)
			return
		}

		jobID := uuid.New()

		setStreamHeaders(w)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		// Image workers and the main loop both emit; the lock keeps their
		// frames from interleaving mid-write.
		var mu sync.Mutex
		emit := func(eventType string, payload any) error {
			raw, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return writeFrame(w, flusher, events.Frame{Type: eventType, Payload: raw})
		}

		imageJPEG, err := decodeBase64Image(req.ImageBase64)
		if err != nil {
			_ = emit(models.EventError, models.ErrorPayload{
				Code:        errCodeInvalidImageBase64,
				Message:     msgInvalidImageBase64,
				Recoverable: true,
			})
			_ = emit(models.EventDone, models.DonePayload{
				Status:    models.JobStatusFailed,
				SessionID: jobID.String(),
			})
			return
		}

		sink := scan.SinkFunc(func(ctx context.Context, eventType string, payload any) error {
			return emit(eventType, payload)
		})

		params := scan.Params{JobID: jobID, ImageJPEG: imageJPEG, Language: lang}
		if _, err := runner.Run(r.Context(), params, sink); err != nil {
			// The only error source here is the response stream itself;
			// the client is gone and there is no one left to tell.
			slog.Info("legacy scan stream ended early", "job_id", jobID, "error", err)
		}
	}
}

// decodeBase64Image decodes a base64 image payload, tolerating a data-URL
// prefix and embedded line breaks.
func decodeBase64Image(s string) ([]byte, error) {
	raw := strings.TrimSpace(s)
	if strings.HasPrefix(raw, "data:") {
		if _, rest, ok := strings.Cut(raw, ","); ok {
			raw = rest
		}
	}
	raw = strings.NewReplacer("\n", "", "\r", "").Replace(raw)
	if raw == "" {
		return nil, errors.New("empty image payload")
	}
	return base64.StdEncoding.DecodeString(raw)
}
