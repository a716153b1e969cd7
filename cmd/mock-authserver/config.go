package main

import (
	"strconv"
	"time"

	"github.com/wrale/device-flow-session/internal/logging"
)

// Config holds server configuration loaded from environment variables
type Config struct {
	Port       int    `envconfig:"PORT" default:"8080"`
	BaseURL    string `envconfig:"BASE_URL"`
	Realm      string `envconfig:"REALM" default:"projetcis"`
	Issuer     string `envconfig:"ISSUER"`
	SigningKey string `envconfig:"SIGNING_KEY" default:"mock-authserver-signing-key"`

	// RedisURL selects the Redis registry; the in-memory one is used when empty
	RedisURL string `envconfig:"REDIS_URL"`

	AutoApproveDelay time.Duration `envconfig:"AUTO_APPROVE_DELAY" default:"5s"`
	CodeExpiry       time.Duration `envconfig:"CODE_EXPIRY" default:"10m"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	TokenTTL         time.Duration `envconfig:"TOKEN_TTL" default:"5m"`
	EnforceInterval  bool          `envconfig:"ENFORCE_INTERVAL" default:"false"`

	Log logging.Config `envconfig:"LOG"`
}

func (c Config) issuer() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	base := c.BaseURL
	if base == "" {
		base = "http://localhost:" + strconv.Itoa(c.Port)
	}
	if c.Realm == "" {
		return base
	}
	return base + "/realms/" + c.Realm
}
