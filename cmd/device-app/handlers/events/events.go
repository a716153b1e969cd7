// Package events streams authorization state changes as server-sent events
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/common"
)

// DefaultKeepAlive is the interval of comment lines on an idle stream
const DefaultKeepAlive = 25 * time.Second

// Handler serves the event stream
type Handler struct {
	session   common.Session
	keepAlive time.Duration
	logger    *slog.Logger
}

// Config contains handler configuration options
type Config struct {
	Session   common.Session
	KeepAlive time.Duration
	Logger    *slog.Logger
}

// New creates a new event stream handler
func New(cfg Config) *Handler {
	h := &Handler{
		session:   cfg.Session,
		keepAlive: cfg.KeepAlive,
		logger:    cfg.Logger,
	}
	if h.keepAlive <= 0 {
		h.keepAlive = DefaultKeepAlive
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ServeHTTP holds the connection open and writes one event per state change,
// starting with the current state
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	// the stream outlives the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.WarnContext(r.Context(), "clearing write deadline failed", slog.Any("error", err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	id, ch := h.session.Subscribe()
	defer h.session.Unsubscribe(id)

	logger := h.logger.With(slog.String("subscriber", id))
	logger.DebugContext(r.Context(), "event stream opened")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.DebugContext(r.Context(), "event stream closed by client")
			return

		case ev, ok := <-ch:
			if !ok {
				// dropped as a slow subscriber or the flow shut down
				logger.DebugContext(r.Context(), "event stream ended")
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				logger.ErrorContext(r.Context(), "encoding event failed", slog.Any("error", err))
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}
