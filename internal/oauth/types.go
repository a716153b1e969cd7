// Package oauth implements the client side of the OAuth 2.0 Device Authorization Grant (RFC 8628)
package oauth

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client
var (
	ErrMalformedResponse   = errors.New("malformed authorization server response")
	ErrInvalidToken        = errors.New("invalid token")
	ErrProviderUnavailable = errors.New("oauth provider unavailable")
)

// Protocol error codes per RFC 6749 section 5.2 and RFC 8628 section 3.5
const (
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeAccessDenied         = "access_denied"
)

// ProtocolError reports an unexpected authorization server response.
// Body holds the upstream payload so callers can surface it.
type ProtocolError struct {
	StatusCode int
	Body       []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("authorization server returned %d: %s", e.StatusCode, e.Body)
}

// DeviceAuthorization is the result of a device authorization request per RFC 8628 section 3.2
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
	Interval                time.Duration
}

// Token represents an issued OAuth2 access token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Scope       string    `json:"scope,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenStatus classifies a single token poll per RFC 8628 section 3.5
type TokenStatus int

const (
	TokenTransientError TokenStatus = iota
	TokenApproved
	TokenPending
	TokenSlowDown
	TokenExpired
	TokenDenied
)

func (s TokenStatus) String() string {
	switch s {
	case TokenApproved:
		return "approved"
	case TokenPending:
		return "pending"
	case TokenSlowDown:
		return "slow_down"
	case TokenExpired:
		return "expired"
	case TokenDenied:
		return "denied"
	default:
		return "transient_error"
	}
}

// TokenResult is the outcome of a token poll. Token is set only for TokenApproved,
// Err only for TokenTransientError.
type TokenResult struct {
	Status TokenStatus
	Token  *Token
	Err    error
}

// RevocationResult reports whether the server acknowledged a revocation request
type RevocationResult int

const (
	RevocationOK RevocationResult = iota
	RevocationIgnored
)

// Endpoints lists the authorization server URLs used by the client
type Endpoints struct {
	DeviceAuthURL string
	TokenURL      string
	RevocationURL string
	UserInfoURL   string
	HealthURL     string
}

// Config holds client configuration
type Config struct {
	ClientID  string
	Endpoints Endpoints
	Timeout   time.Duration
}
