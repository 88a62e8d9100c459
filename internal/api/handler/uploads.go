// Package handler holds the HTTP handlers. Each handler depends on a
// narrow interface of the service it calls so tests can fake it.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menulens/api/internal/api/response"
	"github.com/menulens/api/internal/objstore"
)

// UploadSigner is the slice of the object store the signed-url handler uses.
type UploadSigner interface {
	SignUpload(ctx context.Context, contentType string) (*objstore.SignedUpload, error)
}

// DirectUploadStore accepts token-gated uploads in local mode.
type DirectUploadStore interface {
	Verify(token string) (string, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type signedURLResponse struct {
	UploadURL string `json:"upload_url"`
	// GCSURI is the legacy field name clients echo back as image_ref.
	GCSURI    string `json:"gcs_uri"`
	ExpiresAt string `json:"expires_at"`
}

// NewSignedURLHandler returns the handler for POST /api/v1/uploads/signed-url.
func NewSignedURLHandler(objects UploadSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ContentType string `json:"content_type"`
			Filename    string `json:"filename"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		contentType := req.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}
		if !strings.HasPrefix(contentType, "image/") {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"content_type must be an image type", nil)
			return
		}

		up, err := objects.SignUpload(r.Context(), contentType)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create upload URL", nil)
			return
		}

		response.JSON(w, signedURLResponse{
			UploadURL: up.UploadURL,
			GCSURI:    up.URI,
			ExpiresAt: up.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// NewDirectUploadHandler returns the handler for PUT /api/v1/uploads/direct,
// the local-mode upload target behind the signed URL.
func NewDirectUploadHandler(objects DirectUploadStore, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		token := r.URL.Query().Get("token")
		if key == "" || token == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"key and token query parameters are required", nil)
			return
		}

		signedKey, err := objects.Verify(token)
		if err != nil || signedKey != key {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN",
				"Upload token is invalid or expired", nil)
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					"Image exceeds the upload size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Failed to read upload body", nil)
			return
		}
		if len(data) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Upload body is empty", nil)
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}

		if _, err := objects.Put(r.Context(), key, data, contentType); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store upload", nil)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
