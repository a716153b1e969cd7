package mockidp

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the claims carried by issued tokens
type AccessClaims struct {
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs HS256 tokens for approved authorizations
type TokenIssuer struct {
	key     []byte
	issuer  string
	subject string
	ttl     time.Duration
}

// NewTokenIssuer creates an issuer signing with key
func NewTokenIssuer(key []byte, issuer, subject string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: issuer, subject: subject, ttl: ttl}
}

// Issue mints an access token and an ID token for auth
func (i *TokenIssuer) Issue(auth *Authorization, now time.Time) (accessToken, idToken string, err error) {
	registered := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   i.subject,
		Audience:  jwt.ClaimStrings{auth.ClientID},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}

	access := registered
	access.ID = uuid.NewString()
	accessToken, err = jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		Scope:            auth.Scope,
		ClientID:         auth.ClientID,
		RegisteredClaims: access,
	}).SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("signing access token: %w", err)
	}

	id := registered
	id.ID = uuid.NewString()
	idToken, err = jwt.NewWithClaims(jwt.SigningMethodHS256, id).SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("signing id token: %w", err)
	}

	return accessToken, idToken, nil
}

// TTL returns the lifetime of issued tokens
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}
