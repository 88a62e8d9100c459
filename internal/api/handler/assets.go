package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/menulens/api/internal/api/response"
	"github.com/menulens/api/internal/objstore"
)

// NewGeneratedAssetHandler returns the handler for
// GET /assets/gen/{jobID}/{itemID}.jpg, serving generated dish images.
func NewGeneratedAssetHandler(objects objstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		itemID := chi.URLParam(r, "itemID")
		if jobID == "" || itemID == "" {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Asset not found", nil)
			return
		}

		key := fmt.Sprintf("gen/%s/%s.jpg", jobID, itemID)
		data, err := objects.Fetch(r.Context(), objects.URIFor(key))
		if err != nil {
			if errors.Is(err, objstore.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Asset not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load asset", nil)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(data)
	}
}
