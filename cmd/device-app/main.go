// Package main runs the headless device: it drives the device authorization
// grant and reports its state over HTTP
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/wrale/device-flow-session/internal/deviceflow"
	"github.com/wrale/device-flow-session/internal/logging"
	"github.com/wrale/device-flow-session/internal/oauth"
)

// Version is set by the build process
var Version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("device app failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	slog.SetDefault(logger)

	endpoints := oauth.FlatEndpoints(cfg.AuthServerURL)
	if cfg.AuthRealm != "" {
		endpoints = oauth.KeycloakEndpoints(cfg.AuthServerURL, cfg.AuthRealm)
	}

	client, err := oauth.NewClient(oauth.Config{
		ClientID:  cfg.ClientID,
		Endpoints: endpoints,
		Timeout:   cfg.PollTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating oauth client: %w", err)
	}

	// Initialize device flow
	flow := deviceflow.NewFlow(client,
		deviceflow.WithScopes(cfg.Scopes...),
		deviceflow.WithPollTimeout(cfg.PollTimeout),
		deviceflow.WithSlowDownStep(cfg.SlowDownStep),
		deviceflow.WithSubscriberBuffer(cfg.SubscriberBuffer),
		deviceflow.WithLogger(logger),
	)
	defer flow.Close()

	srv := newServer(cfg, flow, client, logger)

	// Create HTTP server with proper timeout configurations
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	// closing the flow ends every open event stream so Shutdown can finish
	httpServer.RegisterOnShutdown(flow.Close)

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	// Start server
	go func() {
		logger.Info("device app listening",
			slog.Int("port", cfg.Port),
			slog.String("auth_server", cfg.AuthServerURL),
			slog.String("client_id", cfg.ClientID))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("starting server: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("starting shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Shutdown server
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutting down server", slog.Any("error", err))
			if err := httpServer.Close(); err != nil {
				logger.Error("closing server", slog.Any("error", err))
			}
		}
	}

	return nil
}
