// Package test provides fakes shared by the handler tests
package test

import (
	"context"
	"sync"

	"github.com/wrale/device-flow-session/cmd/device-app/handlers/common"
	"github.com/wrale/device-flow-session/internal/deviceflow"
	"github.com/wrale/device-flow-session/internal/oauth"
)

// MockSession provides a full implementation of common.Session for testing
type MockSession struct {
	StartFunc   func(ctx context.Context) (deviceflow.DeviceSession, error)
	LogoutFunc  func(ctx context.Context) (oauth.RevocationResult, error)
	StatusFunc  func() deviceflow.Status
	SessionFunc func() (deviceflow.DeviceSession, bool)

	// Events is handed to subscribers when set
	Events chan deviceflow.Event

	mu           sync.Mutex
	unsubscribed []string
}

// Ensure MockSession implements Session interface
var _ common.Session = (*MockSession)(nil)

// Start implements common.Session
func (m *MockSession) Start(ctx context.Context) (deviceflow.DeviceSession, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	return deviceflow.DeviceSession{}, nil
}

// Logout implements common.Session
func (m *MockSession) Logout(ctx context.Context) (oauth.RevocationResult, error) {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}
	return oauth.RevocationOK, nil
}

// Status implements common.Session
func (m *MockSession) Status() deviceflow.Status {
	if m.StatusFunc != nil {
		return m.StatusFunc()
	}
	return deviceflow.Status{Event: deviceflow.Event{Type: deviceflow.StateWaiting}}
}

// Session implements common.Session
func (m *MockSession) Session() (deviceflow.DeviceSession, bool) {
	if m.SessionFunc != nil {
		return m.SessionFunc()
	}
	return deviceflow.DeviceSession{}, false
}

// Subscribe implements common.Session. With Events set it hands out that
// channel; otherwise the channel holds the current status only.
func (m *MockSession) Subscribe() (string, <-chan deviceflow.Event) {
	if m.Events != nil {
		return "sub-1", m.Events
	}

	ch := make(chan deviceflow.Event, 1)
	ch <- m.Status().Event
	return "sub-1", ch
}

// Unsubscribe implements common.Session
func (m *MockSession) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, id)
}

// Unsubscribed returns the ids passed to Unsubscribe
func (m *MockSession) Unsubscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unsubscribed...)
}
