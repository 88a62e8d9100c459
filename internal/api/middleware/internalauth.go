package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/menulens/api/internal/api/response"
)

const internalTokenHeader = "x-internal-token"

// InternalAuth gates the internal persistence endpoints. Callers present a
// shared token in x-internal-token; only its bcrypt hash is configured on
// the server. An empty hash disables the surface entirely.
type InternalAuth struct {
	tokenHash string
}

func NewInternalAuth(tokenHash string) *InternalAuth {
	return &InternalAuth{tokenHash: tokenHash}
}

// Require rejects requests without a valid internal token.
func (a *InternalAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.tokenHash == "" {
			response.Error(w, http.StatusNotFound,
				"NOT_FOUND", "Not found", nil)
			return
		}

		token := r.Header.Get(internalTokenHeader)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing internal token", nil)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(a.tokenHash), []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid internal token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
