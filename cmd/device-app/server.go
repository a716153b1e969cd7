package main

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/browser"
	"github.com/wrale/device-flow-session/cmd/device-app/handlers/common"
	"github.com/wrale/device-flow-session/cmd/device-app/handlers/events"
	"github.com/wrale/device-flow-session/cmd/device-app/handlers/flow"
	"github.com/wrale/device-flow-session/cmd/device-app/handlers/health"
	"github.com/wrale/device-flow-session/cmd/device-app/handlers/status"
)

type server struct {
	cfg     Config
	router  *chi.Mux
	session common.Session
	health  health.Checker
	logger  *slog.Logger
}

func newServer(cfg Config, session common.Session, provider health.Checker, logger *slog.Logger) *server {
	srv := &server{
		cfg:     cfg,
		router:  chi.NewRouter(),
		session: session,
		health:  provider,
		logger:  logger,
	}

	// Set up middleware
	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	srv.router.Use(middleware.Recoverer)

	// Register routes
	srv.routes()

	return srv
}

func (s *server) routes() {
	flowHandler := flow.New(flow.Config{Session: s.session, Logger: s.logger})
	statusHandler := status.New(s.session)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Method("GET", "/health", health.New("device-app", s.health).WithVersion(Version))
		r.Post("/start-device-flow", flowHandler.Start)
		r.Post("/logout", flowHandler.Logout)
		r.Method("GET", "/status", statusHandler)
		r.Method("GET", "/api/status", statusHandler)
		r.Method("POST", "/open-browser", browser.New(browser.Config{
			Session:       s.session,
			ActivationURL: s.cfg.ActivationURL,
			Logger:        s.logger,
		}))
	})

	// the stream stays open for as long as the client listens
	s.router.Method("GET", "/events", events.New(events.Config{Session: s.session, Logger: s.logger}))
}
