// Package mockidp simulates the device authorization, token, revocation and
// userinfo endpoints of an identity provider for exercising device flow clients
package mockidp

import (
	"errors"
	"time"

	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// Status is the approval state of a device authorization
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// ErrNotFound indicates an unknown device or user code
var ErrNotFound = errors.New("device authorization not found")

// Authorization is one issued device code and what the user decided about it
type Authorization struct {
	DeviceCode string    `json:"device_code"`
	UserCode   string    `json:"user_code"`
	ClientID   string    `json:"client_id"`
	Scope      string    `json:"scope"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the authorization is past its lifetime at now
func (a *Authorization) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// DefaultProfile is the identity every approved authorization belongs to
func DefaultProfile() *oidc.UserInfo {
	return &oidc.UserInfo{
		Subject: "test-user-uuid-12345",
		UserInfoProfile: oidc.UserInfoProfile{
			Name:              "Test User",
			GivenName:         "Test",
			FamilyName:        "User",
			PreferredUsername: "testuser",
		},
		UserInfoEmail: oidc.UserInfoEmail{
			Email:         "testuser@example.com",
			EmailVerified: true,
		},
	}
}
