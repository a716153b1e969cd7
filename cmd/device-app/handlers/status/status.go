// Package status serves the current authorization state as one document
package status

import (
	"net/http"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/common"
)

// Handler processes status queries
type Handler struct {
	session common.Session
}

// New creates a new status handler
func New(session common.Session) *Handler {
	return &Handler{session: session}
}

// ServeHTTP handles status requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(w, http.StatusOK, h.session.Status())
}
