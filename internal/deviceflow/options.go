package deviceflow

import (
	"log/slog"
	"time"
)

const (
	// DefaultPollTimeout bounds a single token poll
	DefaultPollTimeout = 10 * time.Second

	// DefaultSlowDownStep is the interval increase on slow_down per RFC 8628 section 3.5
	DefaultSlowDownStep = 5 * time.Second
)

// DefaultScopes are requested when no scopes are configured
var DefaultScopes = []string{"openid", "profile", "email"}

// Option configures the device flow
type Option func(*Flow)

// WithScopes sets the scopes sent with every device authorization request
func WithScopes(scopes ...string) Option {
	return func(f *Flow) {
		f.scopes = scopes
	}
}

// WithPollTimeout bounds every authorization server call made by the poller
func WithPollTimeout(d time.Duration) Option {
	return func(f *Flow) {
		f.pollTimeout = d
	}
}

// WithSlowDownStep sets how much the polling interval grows on slow_down
func WithSlowDownStep(d time.Duration) Option {
	return func(f *Flow) {
		f.slowDownStep = d
	}
}

// WithSubscriberBuffer sets the per-subscriber event queue depth
func WithSubscriberBuffer(n int) Option {
	return func(f *Flow) {
		f.subscriberBuffer = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}
