package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"
)

const (
	// Keycloak endpoint paths relative to the realm URL
	deviceAuthPath = "/protocol/openid-connect/auth/device"
	tokenPath      = "/protocol/openid-connect/token"
	revocationPath = "/protocol/openid-connect/revoke"
	userInfoPath   = "/protocol/openid-connect/userinfo"

	// HTTP request timeouts
	defaultTimeout = 10 * time.Second

	// defaultInterval applies when the server omits interval, per RFC 8628 section 3.2
	defaultInterval = 5 * time.Second

	maxResponseSize = 1 << 20
)

// KeycloakEndpoints builds the endpoint set of a Keycloak realm
func KeycloakEndpoints(baseURL, realm string) Endpoints {
	realmURL := fmt.Sprintf("%s/realms/%s", strings.TrimSuffix(baseURL, "/"), realm)
	return Endpoints{
		DeviceAuthURL: realmURL + deviceAuthPath,
		TokenURL:      realmURL + tokenPath,
		RevocationURL: realmURL + revocationPath,
		UserInfoURL:   realmURL + userInfoPath,
		HealthURL:     strings.TrimSuffix(baseURL, "/") + "/health",
	}
}

// FlatEndpoints builds the endpoint set of a server exposing the bare RFC 8628 paths
func FlatEndpoints(baseURL string) Endpoints {
	base := strings.TrimSuffix(baseURL, "/")
	return Endpoints{
		DeviceAuthURL: base + "/device/authorize",
		TokenURL:      base + "/token",
		RevocationURL: base + "/revoke",
		UserInfoURL:   base + "/userinfo",
		HealthURL:     base + "/health",
	}
}

// Client performs the authorization server calls of the device flow.
// Each method is a single request/response round trip.
type Client struct {
	client    *http.Client
	clientID  string
	endpoints Endpoints
	logger    *slog.Logger
}

// NewClient creates a new device flow client
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.Endpoints.DeviceAuthURL == "" || cfg.Endpoints.TokenURL == "" {
		return nil, fmt.Errorf("device authorization and token endpoints are required")
	}
	for _, raw := range []string{cfg.Endpoints.DeviceAuthURL, cfg.Endpoints.TokenURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, fmt.Errorf("invalid endpoint URL: %w", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client:    &http.Client{Timeout: timeout},
		clientID:  cfg.ClientID,
		endpoints: cfg.Endpoints,
		logger:    logger,
	}, nil
}

// RequestDeviceCode starts a device authorization per RFC 8628 section 3.1
func (c *Client) RequestDeviceCode(ctx context.Context, scopes []string) (*DeviceAuthorization, error) {
	cfg := &oauth2.Config{
		ClientID: c.clientID,
		Scopes:   scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: c.endpoints.DeviceAuthURL,
			TokenURL:      c.endpoints.TokenURL,
		},
	}

	resp, err := cfg.DeviceAuth(context.WithValue(ctx, oauth2.HTTPClient, c.client))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			status := 0
			if rerr.Response != nil {
				status = rerr.Response.StatusCode
			}
			return nil, &ProtocolError{StatusCode: status, Body: rerr.Body}
		}
		return nil, fmt.Errorf("requesting device code: %w", err)
	}

	if resp.DeviceCode == "" || resp.UserCode == "" || resp.VerificationURI == "" || resp.Expiry.IsZero() {
		return nil, ErrMalformedResponse
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}

	return &DeviceAuthorization{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresAt:               resp.Expiry,
		Interval:                interval,
	}, nil
}

// PollToken performs one device access token request per RFC 8628 section 3.4
func (c *Client) PollToken(ctx context.Context, deviceCode string) TokenResult {
	data := url.Values{
		"grant_type":  {string(oidc.GrantTypeDeviceCode)},
		"device_code": {deviceCode},
		"client_id":   {c.clientID},
	}

	status, body, err := c.postForm(ctx, c.endpoints.TokenURL, data)
	if err != nil {
		return TokenResult{Status: TokenTransientError, Err: fmt.Errorf("sending token request: %w", err)}
	}

	if status == http.StatusOK {
		var tokenResp struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			ExpiresIn   int    `json:"expires_in"`
			Scope       string `json:"scope"`
		}
		if err := json.Unmarshal(body, &tokenResp); err != nil {
			return TokenResult{Status: TokenTransientError, Err: fmt.Errorf("parsing token response: %w", err)}
		}
		if tokenResp.AccessToken == "" {
			return TokenResult{Status: TokenTransientError, Err: ErrMalformedResponse}
		}

		return TokenResult{
			Status: TokenApproved,
			Token: &Token{
				AccessToken: tokenResp.AccessToken,
				TokenType:   tokenResp.TokenType,
				Scope:       tokenResp.Scope,
				ExpiresAt:   time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
			},
		}
	}

	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return TokenResult{Status: TokenTransientError, Err: &ProtocolError{StatusCode: status, Body: body}}
	}

	switch errResp.Error {
	case ErrorCodeAuthorizationPending:
		return TokenResult{Status: TokenPending}
	case ErrorCodeSlowDown:
		return TokenResult{Status: TokenSlowDown}
	case ErrorCodeExpiredToken, ErrorCodeInvalidGrant:
		return TokenResult{Status: TokenExpired}
	case ErrorCodeAccessDenied:
		return TokenResult{Status: TokenDenied}
	default:
		return TokenResult{Status: TokenTransientError, Err: &ProtocolError{StatusCode: status, Body: body}}
	}
}

// RevokeToken revokes an access token per RFC 7009.
// Failures are logged and reported as RevocationIgnored, never returned.
func (c *Client) RevokeToken(ctx context.Context, token string) RevocationResult {
	if c.endpoints.RevocationURL == "" {
		return RevocationIgnored
	}

	data := url.Values{
		"token":           {token},
		"token_type_hint": {"access_token"},
		"client_id":       {c.clientID},
	}

	status, body, err := c.postForm(ctx, c.endpoints.RevocationURL, data)
	if err != nil {
		c.logger.WarnContext(ctx, "token revocation failed", slog.Any("error", err))
		return RevocationIgnored
	}
	if status < 200 || status > 299 {
		c.logger.WarnContext(ctx, "token revocation rejected",
			slog.Int("status", status), slog.String("body", string(body)))
		return RevocationIgnored
	}

	return RevocationOK
}

// UserInfo fetches the profile of the token's subject per OpenID Connect Core section 5.3
func (c *Client) UserInfo(ctx context.Context, token string) (*oidc.UserInfo, error) {
	if c.endpoints.UserInfoURL == "" {
		return nil, ErrProviderUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Body: body}
	}

	var info oidc.UserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing userinfo response: %w", err)
	}

	return &info, nil
}

// CheckHealth verifies the provider is accessible
func (c *Client) CheckHealth(ctx context.Context) error {
	if c.endpoints.HealthURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrProviderUnavailable
	}

	return nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}

	return resp.StatusCode, body, nil
}
