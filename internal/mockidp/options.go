package mockidp

import (
	"log/slog"
	"time"
)

const (
	DefaultRealm            = "projetcis"
	DefaultAutoApproveDelay = 5 * time.Second
	DefaultCodeExpiry       = 10 * time.Minute
	DefaultPollInterval     = 5 * time.Second
	DefaultTokenTTL         = 5 * time.Minute
)

// Config controls the behavior of the mock authorization server
type Config struct {
	// BaseURL is the public URL of the server. When empty it is derived from
	// the incoming request.
	BaseURL string

	// Realm enables the Keycloak path layout under /realms/<realm>
	Realm string

	// Issuer is the iss claim of minted tokens
	Issuer string

	// SigningKey is the HS256 secret for minted tokens
	SigningKey []byte

	// AutoApproveDelay approves each code this long after issuance; zero disables it
	AutoApproveDelay time.Duration

	CodeExpiry   time.Duration
	PollInterval time.Duration
	TokenTTL     time.Duration

	// EnforceInterval answers slow_down to polls arriving faster than PollInterval
	EnforceInterval bool
}

// Option configures a Server
type Option func(*Server)

// WithClock sets the time source used for expiry and polling checks
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func (c *Config) applyDefaults() {
	if c.CodeExpiry <= 0 {
		c.CodeExpiry = DefaultCodeExpiry
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.AutoApproveDelay < 0 {
		c.AutoApproveDelay = 0
	}

	// expires_in and interval are whole seconds on the wire
	c.CodeExpiry = roundUpSecond(c.CodeExpiry)
	c.PollInterval = roundUpSecond(c.PollInterval)
}

func roundUpSecond(d time.Duration) time.Duration {
	if rem := d % time.Second; rem != 0 {
		return d - rem + time.Second
	}
	return d
}
