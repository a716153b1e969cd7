package main

import (
	"time"

	"github.com/wrale/device-flow-session/internal/logging"
)

// Config holds server configuration loaded from environment variables
type Config struct {
	Port          int      `envconfig:"PORT" default:"4000"`
	AuthServerURL string   `envconfig:"AUTH_SERVER_URL" required:"true"`
	AuthRealm     string   `envconfig:"AUTH_REALM"`
	ClientID      string   `envconfig:"CLIENT_ID" default:"devicecis"`
	Scopes        []string `envconfig:"SCOPES" default:"openid,profile,email"`
	ActivationURL string   `envconfig:"ACTIVATION_URL"`

	PollTimeout  time.Duration `envconfig:"POLL_TIMEOUT" default:"10s"`
	SlowDownStep time.Duration `envconfig:"SLOW_DOWN_STEP" default:"5s"`

	// SubscriberBuffer is the event queue depth of each /events stream
	SubscriberBuffer int `envconfig:"SUBSCRIBER_BUFFER" default:"16"`

	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	Log logging.Config `envconfig:"LOG"`
}
