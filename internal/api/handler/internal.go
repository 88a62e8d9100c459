package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/menulens/api/internal/api/response"
	"github.com/menulens/api/pkg/models"
)

// KnowledgeStore is the store surface behind the internal data endpoints.
type KnowledgeStore interface {
	FetchDishKnowledge(ctx context.Context, language string, dishKeys []string) (map[string]*models.DishKnowledge, error)
	UpsertDishKnowledge(ctx context.Context, rows []*models.DishKnowledge) (int, error)
	InsertScanRecord(ctx context.Context, rec *models.ScanRecord) (bool, error)
}

type knowledgeFetchRequest struct {
	Language string   `json:"language"`
	DishKeys []string `json:"dish_keys"`
}

type knowledgeFetchResponse struct {
	Rows map[string]*models.DishKnowledge `json:"rows"`
}

// NewKnowledgeFetchHandler returns the handler for
// POST /internal/dish_knowledge/fetch.
func NewKnowledgeFetchHandler(st KnowledgeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req knowledgeFetchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Language == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "language is required", nil)
			return
		}
		if len(req.DishKeys) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "dish_keys must not be empty", nil)
			return
		}

		rows, err := st.FetchDishKnowledge(r.Context(), req.Language, req.DishKeys)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch dish knowledge", nil)
			return
		}
		if rows == nil {
			rows = map[string]*models.DishKnowledge{}
		}

		response.JSON(w, knowledgeFetchResponse{Rows: rows})
	}
}

type knowledgeUpsertRequest struct {
	Rows []*models.DishKnowledge `json:"rows"`
}

type knowledgeUpsertResponse struct {
	Updated int `json:"updated"`
}

// NewKnowledgeUpsertHandler returns the handler for
// POST /internal/dish_knowledge/upsert_many.
func NewKnowledgeUpsertHandler(st KnowledgeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req knowledgeUpsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.Rows) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "rows must not be empty", nil)
			return
		}
		for i, row := range req.Rows {
			if row == nil || row.DishKey == "" || row.Language == "" {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					fmt.Sprintf("rows[%d] is missing dish_key or language", i), nil)
				return
			}
		}

		updated, err := st.UpsertDishKnowledge(r.Context(), req.Rows)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to upsert dish knowledge", nil)
			return
		}

		response.JSON(w, knowledgeUpsertResponse{Updated: updated})
	}
}

type scanRecordInsertRequest struct {
	Record *models.ScanRecord `json:"record"`
}

type scanRecordInsertResponse struct {
	Inserted bool `json:"inserted"`
}

// NewScanRecordInsertHandler returns the handler for
// POST /internal/scan_records/insert.
func NewScanRecordInsertHandler(st KnowledgeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scanRecordInsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Record == nil || req.Record.ScanID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"record.scan_id is required", nil)
			return
		}

		inserted, err := st.InsertScanRecord(r.Context(), req.Record)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to insert scan record", nil)
			return
		}

		response.JSON(w, scanRecordInsertResponse{Inserted: inserted})
	}
}
