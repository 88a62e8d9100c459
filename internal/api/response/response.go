// Package response writes the API's JSON bodies. Success bodies are the
// payload itself, bit-exact with no wrapper; error bodies share one
// envelope so clients have a single failure shape to parse.
package response

import (
	"encoding/json"
	"net/http"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes v as the entire response body with status 200.
func JSON(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

// Accepted writes v with status 202, for requests queued for async work.
func Accepted(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusAccepted, v)
}

// Error writes the shared error envelope {"error":{code,message,details?}}.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
