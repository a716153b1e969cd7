// Package main runs a mock authorization server for the device authorization grant
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

	"github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/wrale/device-flow-session/internal/logging"
	"github.com/wrale/device-flow-session/internal/mockidp"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mock authorization server failed", slog.Any("error", err))
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, closeRegistry, err := newRegistry(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeRegistry()

	idp := mockidp.NewServer(mockidp.Config{
		BaseURL:          cfg.BaseURL,
		Realm:            cfg.Realm,
		Issuer:           cfg.issuer(),
		SigningKey:       []byte(cfg.SigningKey),
		AutoApproveDelay: cfg.AutoApproveDelay,
		CodeExpiry:       cfg.CodeExpiry,
		PollInterval:     cfg.PollInterval,
		TokenTTL:         cfg.TokenTTL,
		EnforceInterval:  cfg.EnforceInterval,
	}, registry, mockidp.WithLogger(logger))
	defer idp.Close()

	handler := middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
		NoColor: true,
	})(middleware.Recoverer(idp))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("mock authorization server listening",
			slog.Int("port", cfg.Port),
			slog.String("realm", cfg.Realm),
			slog.Duration("auto_approve_delay", cfg.AutoApproveDelay),
			slog.Bool("redis", cfg.RedisURL != ""))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("starting server: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("starting shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutting down server", slog.Any("error", err))
			if err := httpServer.Close(); err != nil {
				logger.Error("closing server", slog.Any("error", err))
			}
		}
	}

	return nil
}

// newRegistry connects to Redis when redisURL is set and verifies the connection
func newRegistry(ctx context.Context, redisURL string) (mockidp.Registry, func(), error) {
	if redisURL == "" {
		return mockidp.NewMemoryRegistry(ctx), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	closeFn := func() {
		if err := redisClient.Close(); err != nil {
			slog.Warn("closing Redis connection", slog.Any("error", err))
		}
	}
	return mockidp.NewRedisRegistry(redisClient), closeFn, nil
}
