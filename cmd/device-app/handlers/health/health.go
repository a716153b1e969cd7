package health

import (
	"context"
	"net/http"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/common"
)

// Checker reports whether a dependency is reachable
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// Handler processes health check requests
type Handler struct {
	provider Checker
	service  string
	version  string
}

// Response represents the health check response.
// Note: Version field is omitted when empty.
type Response struct {
	Status  string         `json:"status"`
	Service string         `json:"service"`
	Version string         `json:"version,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// New creates a new health check handler reporting on the authorization server
func New(service string, provider Checker) *Handler {
	return &Handler{
		provider: provider,
		service:  service,
	}
}

// WithVersion sets the version for health check responses
func (h *Handler) WithVersion(version string) *Handler {
	h.version = version
	return h
}

// ServeHTTP handles health check requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := Response{
		Status:  "OK",
		Service: h.service,
		Version: h.version,
		Details: make(map[string]any),
	}

	status := http.StatusOK
	if err := h.provider.CheckHealth(r.Context()); err != nil {
		response.Status = "degraded"
		response.Details["authorization_server"] = map[string]any{
			"status":  "unhealthy",
			"message": err.Error(),
		}
		status = http.StatusServiceUnavailable
	} else {
		response.Details["authorization_server"] = map[string]any{
			"status": "healthy",
		}
	}

	common.WriteJSON(w, status, response)
}
