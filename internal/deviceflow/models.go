package deviceflow

import (
	"time"

	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// State is the authorization state pushed to observers. It is always derived
// from the current session and token, never stored.
type State string

const (
	StateWaiting       State = "waiting"
	StatePending       State = "pending"
	StateAuthenticated State = "authenticated"
)

// Phase is the position of the flow in its state machine
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFlowStarted
	PhaseAuthenticated
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseFlowStarted:
		return "flow_started"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseExpired:
		return "expired"
	default:
		return "idle"
	}
}

// DeviceSession represents one in-progress device authorization per RFC 8628 section 3.2
type DeviceSession struct {
	// ID identifies the session; the poller bound to it carries the same ID
	ID string `json:"-"`

	// DeviceCode is the server-issued polling secret, never shown to observers
	DeviceCode string `json:"-"`

	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	// PollInterval only grows during a session's lifetime (slow_down)
	PollInterval time.Duration `json:"-"`
	ExpiresAt    time.Time     `json:"expires_at"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ExpiresIn returns the remaining lifetime in whole seconds
func (s DeviceSession) ExpiresIn() int {
	remaining := int(time.Until(s.ExpiresAt).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Event is the state notification delivered to subscribers
type Event struct {
	Type            State          `json:"type"`
	UserCode        string         `json:"user_code,omitempty"`
	VerificationURI string         `json:"verification_uri,omitempty"`
	User            *oidc.UserInfo `json:"user,omitempty"`
}

// Status is the synchronous view of the flow. It carries the event shape plus
// details useful to clients that cannot hold a stream open.
type Status struct {
	Event
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in,omitempty"`
}
