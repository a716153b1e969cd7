// Package browser opens the verification page on the device's own display
package browser

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pkg/browser"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/common"
	"github.com/wrale/device-flow-session/internal/deviceflow"
)

// CodePlaceholder in an activation URL is replaced with the user code
const CodePlaceholder = "{code}"

// Opener launches a URL in a browser
type Opener func(url string) error

// Handler serves the open-browser endpoint
type Handler struct {
	session       common.Session
	activationURL string
	open          Opener
	logger        *slog.Logger
}

// Config contains handler configuration options
type Config struct {
	Session common.Session

	// ActivationURL overrides the verification URI reported by the server
	ActivationURL string

	// Open defaults to the system browser
	Open   Opener
	Logger *slog.Logger
}

type openResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// New creates a new browser handler
func New(cfg Config) *Handler {
	h := &Handler{
		session:       cfg.Session,
		activationURL: cfg.ActivationURL,
		open:          cfg.Open,
		logger:        cfg.Logger,
	}
	if h.open == nil {
		h.open = browser.OpenURL
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ServeHTTP opens the verification page of the pending flow
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session.Session()
	if !ok {
		common.WriteError(w, http.StatusBadRequest, deviceflow.ErrNoActiveFlow.Error())
		return
	}

	target := h.target(session)
	if err := h.open(target); err != nil {
		h.logger.ErrorContext(r.Context(), "opening browser failed",
			slog.String("url", target), slog.Any("error", err))
		common.WriteError(w, http.StatusInternalServerError, "failed to open browser")
		return
	}

	h.logger.InfoContext(r.Context(), "browser opened", slog.String("url", target))
	common.WriteJSON(w, http.StatusOK, openResponse{Success: true, URL: target})
}

func (h *Handler) target(session deviceflow.DeviceSession) string {
	if h.activationURL != "" {
		return strings.ReplaceAll(h.activationURL, CodePlaceholder, session.UserCode)
	}
	if session.VerificationURIComplete != "" {
		return session.VerificationURIComplete
	}
	return session.VerificationURI
}
