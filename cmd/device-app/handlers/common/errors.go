package common

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Failure is the error body of the device app endpoints
type Failure struct {
	Success bool `json:"success"`

	// Error is a message, or the upstream JSON payload when one is available
	Error any `json:"error"`
}

// SetJSONHeaders sets the headers of every JSON response
func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
}

// WriteJSON sends v with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	SetJSONHeaders(w)

	body, err := json.Marshal(v)
	if err != nil {
		WriteJSONError(w, err)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// WriteError sends a failure with a plain message
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Failure{Error: strings.TrimSpace(message)})
}

// WriteUpstreamError sends a failure carrying an upstream response body.
// Bodies that are not JSON are passed on as a string.
func WriteUpstreamError(w http.ResponseWriter, status int, body []byte) {
	var payload any = strings.TrimSpace(string(body))
	if json.Valid(body) {
		payload = json.RawMessage(body)
	}
	WriteJSON(w, status, Failure{Error: payload})
}

// WriteJSONError handles JSON encoding failures with a standardized response
func WriteJSONError(w http.ResponseWriter, err error) {
	SetJSONHeaders(w)
	w.WriteHeader(http.StatusInternalServerError)

	// Create error response manually since JSON encoding failed
	errResponse := []byte(`{"success":false,"error":"failed to encode response"}`)
	if _, writeErr := w.Write(errResponse); writeErr != nil {
		return
	}
}
