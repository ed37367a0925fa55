package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/keyissuer/internal/application"
	"github.com/ericfisherdev/keyissuer/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// APIKeyResponse is the JSON body returned by the sign-in callback. APIKey is
// omitted for revoked identities.
type APIKeyResponse struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	APIKey string `json:"api_key,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toAPIKeyResponse converts an issuance outcome to its JSON representation.
func toAPIKeyResponse(out application.IssueOutcome) APIKeyResponse {
	if out.Result.IsRevoked() {
		return APIKeyResponse{
			Email:  out.Email,
			Status: string(model.IssueStatusRevoked),
			Error:  "credential revoked",
		}
	}
	return APIKeyResponse{
		Email:  out.Email,
		Status: string(model.IssueStatusActive),
		APIKey: out.Result.APIKey,
	}
}
