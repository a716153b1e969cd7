// Package flow exposes starting and ending the device authorization
package flow

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/common"
	"github.com/wrale/device-flow-session/internal/deviceflow"
	"github.com/wrale/device-flow-session/internal/oauth"
)

// Handler serves the start and logout endpoints
type Handler struct {
	session common.Session
	logger  *slog.Logger
}

// Config contains handler configuration options
type Config struct {
	Session common.Session
	Logger  *slog.Logger
}

// StartData is the payload of a successful start
type StartData struct {
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
}

type startResponse struct {
	Success bool      `json:"success"`
	Data    StartData `json:"data"`
}

type logoutResponse struct {
	Success bool `json:"success"`
	Revoked bool `json:"revoked"`
}

// New creates a new flow handler
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		session: cfg.Session,
		logger:  logger,
	}
}

// Start requests a new device code and begins polling for it
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	session, err := h.session.Start(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "starting device flow failed", slog.Any("error", err))

		var perr *oauth.ProtocolError
		switch {
		case errors.As(err, &perr):
			common.WriteUpstreamError(w, http.StatusBadGateway, perr.Body)
		case errors.Is(err, deviceflow.ErrClosed):
			common.WriteError(w, http.StatusServiceUnavailable, err.Error())
		default:
			common.WriteError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	common.WriteJSON(w, http.StatusOK, startResponse{
		Success: true,
		Data: StartData{
			UserCode:                session.UserCode,
			VerificationURI:         session.VerificationURI,
			VerificationURIComplete: session.VerificationURIComplete,
			ExpiresIn:               session.ExpiresIn(),
		},
	})
}

// Logout revokes and drops the token, or cancels a pending flow
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	result, err := h.session.Logout(r.Context())
	if err != nil {
		if errors.Is(err, deviceflow.ErrNotAuthenticated) {
			common.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "logout failed", slog.Any("error", err))
		common.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	common.WriteJSON(w, http.StatusOK, logoutResponse{
		Success: true,
		Revoked: result == oauth.RevocationOK,
	})
}
