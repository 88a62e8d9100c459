package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/menulens/api/internal/api/middleware"
	"github.com/menulens/api/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit    *mw.RateLimit
	InternalAuth *mw.InternalAuth

	HealthHandler       http.HandlerFunc
	SignedURLHandler    http.HandlerFunc
	DirectUploadHandler http.HandlerFunc
	CreateScanJob       http.HandlerFunc
	JobSnapshot         http.HandlerFunc
	ScanEvents          http.HandlerFunc
	LegacyStream        http.HandlerFunc
	GeneratedAsset      http.HandlerFunc

	KnowledgeFetch   http.HandlerFunc
	KnowledgeUpsert  http.HandlerFunc
	ScanRecordInsert http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public, unlimited surfaces: liveness and image serving.
	r.Get("/healthz", orNotImplemented(deps.HealthHandler))
	r.Get("/assets/gen/{jobID}/{itemID}.jpg", orNotImplemented(deps.GeneratedAsset))

	// Read paths stay outside the limiter so a client polling a snapshot
	// or holding a stream open never starves its own scan submissions.
	r.Get("/api/v1/scan/jobs/{jobID}", orNotImplemented(deps.JobSnapshot))
	r.Get("/api/v1/scan/jobs/{jobID}/events", orNotImplemented(deps.ScanEvents))

	// Rate-limited write paths.
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/uploads/signed-url", orNotImplemented(deps.SignedURLHandler))
		r.Put("/api/v1/uploads/direct", orNotImplemented(deps.DirectUploadHandler))
		r.Post("/api/v1/scan/jobs", orNotImplemented(deps.CreateScanJob))
		r.Post("/api/v1/scan/stream", orNotImplemented(deps.LegacyStream))
	})

	// Internal data plane, token-gated.
	r.Group(func(r chi.Router) {
		r.Use(deps.InternalAuth.Require)

		r.Post("/internal/dish_knowledge/fetch", orNotImplemented(deps.KnowledgeFetch))
		r.Post("/internal/dish_knowledge/upsert_many", orNotImplemented(deps.KnowledgeUpsert))
		r.Post("/internal/scan_records/insert", orNotImplemented(deps.ScanRecordInsert))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
