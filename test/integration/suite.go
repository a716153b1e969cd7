// Package integration runs the device flow end to end against the mock authorization server
package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/events"
	"github.com/wrale/device-flow-session/cmd/device-app/handlers/flow"
	"github.com/wrale/device-flow-session/cmd/device-app/handlers/status"
	"github.com/wrale/device-flow-session/internal/deviceflow"
	"github.com/wrale/device-flow-session/internal/mockidp"
	"github.com/wrale/device-flow-session/internal/oauth"
)

// Timeouts for a whole test
const ServiceTimeout = 30 * time.Second

// Options configure the mock authorization server of a suite
type Options struct {
	AutoApproveDelay time.Duration
	CodeExpiry       time.Duration
	PollInterval     time.Duration
	EnforceInterval  bool

	// Registry defaults to an in-memory registry
	Registry mockidp.Registry
}

// TestSuite wires a device flow to a mock authorization server
type TestSuite struct {
	T   *testing.T
	Ctx context.Context

	IDP    *httptest.Server
	App    *httptest.Server
	Client *oauth.Client
	Flow   *deviceflow.Flow
}

// NewSuite starts the mock authorization server and a device app surface in front of a fresh flow
func NewSuite(t *testing.T, opts Options) *TestSuite {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), ServiceTimeout)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := opts.Registry
	if registry == nil {
		registry = mockidp.NewMemoryRegistry(ctx)
	}

	idp := mockidp.NewServer(mockidp.Config{
		Realm:            "projetcis",
		Issuer:           "http://mock.test/realms/projetcis",
		SigningKey:       []byte("integration-key"),
		AutoApproveDelay: opts.AutoApproveDelay,
		CodeExpiry:       opts.CodeExpiry,
		PollInterval:     opts.PollInterval,
		EnforceInterval:  opts.EnforceInterval,
	}, registry, mockidp.WithLogger(logger))
	idpServer := httptest.NewServer(idp)

	client, err := oauth.NewClient(oauth.Config{
		ClientID:  "devicecis",
		Endpoints: oauth.KeycloakEndpoints(idpServer.URL, "projetcis"),
		Timeout:   5 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("creating oauth client: %v", err)
	}

	f := deviceflow.NewFlow(client,
		deviceflow.WithPollTimeout(5*time.Second),
		deviceflow.WithSlowDownStep(time.Second),
		deviceflow.WithLogger(logger))

	flowHandler := flow.New(flow.Config{Session: f, Logger: logger})
	router := chi.NewRouter()
	router.Post("/start-device-flow", flowHandler.Start)
	router.Post("/logout", flowHandler.Logout)
	router.Method("GET", "/api/status", status.New(f))
	router.Method("GET", "/events", events.New(events.Config{Session: f, Logger: logger}))
	appServer := httptest.NewServer(router)

	t.Cleanup(func() {
		f.Close()
		appServer.Close()
		idpServer.Close()
		idp.Close()
	})

	return &TestSuite{
		T:      t,
		Ctx:    ctx,
		IDP:    idpServer,
		App:    appServer,
		Client: client,
		Flow:   f,
	}
}
