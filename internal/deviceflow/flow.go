// Package deviceflow drives one OAuth 2.0 Device Authorization Grant (RFC 8628) session at a time
package deviceflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/wrale/device-flow-session/internal/events"
	"github.com/wrale/device-flow-session/internal/oauth"
)

// Authorizer performs the authorization server calls the flow depends on
type Authorizer interface {
	RequestDeviceCode(ctx context.Context, scopes []string) (*oauth.DeviceAuthorization, error)
	PollToken(ctx context.Context, deviceCode string) oauth.TokenResult
	RevokeToken(ctx context.Context, token string) oauth.RevocationResult
	UserInfo(ctx context.Context, token string) (*oidc.UserInfo, error)
}

// Flow owns the single device session and access token. Its methods are the only
// mutators of either; every change of derived state is published after it is committed.
type Flow struct {
	client           Authorizer
	scopes           []string
	pollTimeout      time.Duration
	slowDownStep     time.Duration
	subscriberBuffer int
	logger           *slog.Logger
	events           *events.Broadcaster[Event]

	mu      sync.Mutex
	phase   Phase
	session *DeviceSession
	token   *oauth.Token
	user    *oidc.UserInfo
	poller  *poller
	closed  bool

	// tracks pollers and background revocations
	wg sync.WaitGroup
}

// NewFlow creates a new device flow manager with provided options
func NewFlow(client Authorizer, opts ...Option) *Flow {
	f := &Flow{
		client:       client,
		scopes:       DefaultScopes,
		pollTimeout:  DefaultPollTimeout,
		slowDownStep: DefaultSlowDownStep,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.pollTimeout <= 0 {
		f.pollTimeout = DefaultPollTimeout
	}
	if f.slowDownStep <= 0 {
		f.slowDownStep = DefaultSlowDownStep
	}
	f.events = events.NewBroadcaster[Event](f.subscriberBuffer, f.logger)

	return f
}

// Start requests a new device code and installs it as the current session.
// Any running poller is retired first; a token held from a previous flow is
// dropped and revoked in the background. A failed request leaves the flow untouched.
func (f *Flow) Start(ctx context.Context) (DeviceSession, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return DeviceSession{}, ErrClosed
	}

	auth, err := f.client.RequestDeviceCode(ctx, f.scopes)
	if err != nil {
		return DeviceSession{}, fmt.Errorf("starting device flow: %w", err)
	}

	session := &DeviceSession{
		ID:                      uuid.NewString(),
		DeviceCode:              auth.DeviceCode,
		UserCode:                auth.UserCode,
		VerificationURI:         auth.VerificationURI,
		VerificationURIComplete: auth.VerificationURIComplete,
		PollInterval:            auth.Interval,
		ExpiresAt:               auth.ExpiresAt,
		CreatedAt:               time.Now(),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return DeviceSession{}, ErrClosed
	}

	f.retireLocked()
	if f.token != nil {
		f.revokeInBackground(f.token)
		f.token = nil
		f.user = nil
	}

	f.session = session
	f.phase = PhaseFlowStarted
	f.startPollerLocked(session)
	f.publishLocked()

	f.logger.Info("device flow started",
		slog.String("session", session.ID),
		slog.String("user_code", session.UserCode),
		slog.Duration("interval", session.PollInterval),
		slog.Time("expires_at", session.ExpiresAt))

	return *session, nil
}

// Logout ends the current authorization. With a token, it is revoked at the
// authorization server (best effort) and cleared. A pending flow is cancelled.
func (f *Flow) Logout(ctx context.Context) (oauth.RevocationResult, error) {
	f.mu.Lock()
	if f.session != nil {
		f.logger.Info("device flow cancelled", slog.String("session", f.session.ID))
		f.retireLocked()
		f.session = nil
		f.phase = PhaseIdle
		f.publishLocked()
		f.mu.Unlock()
		return oauth.RevocationIgnored, nil
	}

	token := f.token
	f.mu.Unlock()

	if token == nil {
		return oauth.RevocationIgnored, ErrNotAuthenticated
	}

	rctx, cancel := context.WithTimeout(ctx, f.pollTimeout)
	result := f.client.RevokeToken(rctx, token.AccessToken)
	cancel()

	f.mu.Lock()
	defer f.mu.Unlock()

	// a concurrent Start may already have replaced the token
	if f.token == token {
		f.token = nil
		f.user = nil
		f.phase = PhaseIdle
		f.publishLocked()
		f.logger.Info("logged out", slog.Bool("revoked", result == oauth.RevocationOK))
	}

	return result, nil
}

// Subscribe registers an observer. The returned channel first yields the
// current state, then one event per state change until Unsubscribe.
func (f *Flow) Subscribe() (string, <-chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.events.Subscribe(f.eventLocked())
}

// Unsubscribe removes an observer. It is safe to call more than once.
func (f *Flow) Unsubscribe(id string) {
	f.events.Unsubscribe(id)
}

// State returns the derived authorization state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.eventLocked().Type
}

// Phase returns the state machine position
func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.phase
}

// Status returns the current state as a single document
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	status := Status{Event: f.eventLocked()}
	if f.session != nil {
		status.VerificationURIComplete = f.session.VerificationURIComplete
		status.ExpiresIn = f.session.ExpiresIn()
	}
	return status
}

// Session returns a copy of the active session
func (f *Flow) Session() (DeviceSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil {
		return DeviceSession{}, false
	}
	return *f.session, true
}

// Token returns a copy of the current access token
func (f *Flow) Token() (oauth.Token, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token == nil {
		return oauth.Token{}, false
	}
	return *f.token, true
}

// Close retires the poller, waits for background work and disconnects all subscribers
func (f *Flow) Close() {
	f.mu.Lock()
	f.closed = true
	f.retireLocked()
	f.mu.Unlock()

	f.wg.Wait()
	f.events.Close()
}

// approve installs the token for sessionID. It reports false when the session
// is no longer current, in which case nothing changes.
func (f *Flow) approve(sessionID string, token *oauth.Token, user *oidc.UserInfo) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isCurrentLocked(sessionID) {
		return false
	}

	f.retireLocked()
	f.session = nil
	f.token = token
	f.user = user
	f.phase = PhaseAuthenticated
	f.publishLocked()

	return true
}

// expire clears the session bound to sessionID without installing a token
func (f *Flow) expire(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isCurrentLocked(sessionID) {
		return false
	}

	f.retireLocked()
	f.session = nil
	f.phase = PhaseExpired
	f.publishLocked()

	return true
}

// slowDown grows the polling interval of sessionID and returns the new value
func (f *Flow) slowDown(sessionID string) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isCurrentLocked(sessionID) {
		return 0, false
	}

	f.session.PollInterval += f.slowDownStep
	return f.session.PollInterval, true
}

func (f *Flow) isCurrentLocked(sessionID string) bool {
	return f.phase == PhaseFlowStarted && f.session != nil && f.session.ID == sessionID
}

func (f *Flow) startPollerLocked(session *DeviceSession) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		flow:       f,
		sessionID:  session.ID,
		deviceCode: session.DeviceCode,
		interval:   session.PollInterval,
		expiresAt:  session.ExpiresAt,
		cancel:     cancel,
	}
	f.poller = p

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		p.run(ctx)
	}()
}

func (f *Flow) retireLocked() {
	if f.poller == nil {
		return
	}
	f.poller.cancel()
	f.poller = nil
}

func (f *Flow) revokeInBackground(token *oauth.Token) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.pollTimeout)
		defer cancel()
		f.client.RevokeToken(ctx, token.AccessToken)
	}()
}

// publishLocked must run with f.mu held so events reach subscribers in commit order
func (f *Flow) publishLocked() {
	f.events.Publish(f.eventLocked())
}

func (f *Flow) eventLocked() Event {
	switch {
	case f.token != nil:
		return Event{Type: StateAuthenticated, User: f.user}
	case f.session != nil:
		return Event{
			Type:            StatePending,
			UserCode:        f.session.UserCode,
			VerificationURI: f.session.VerificationURI,
		}
	default:
		return Event{Type: StateWaiting}
	}
}
