package oauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		ClientID:  "devicecis",
		Endpoints: FlatEndpoints(srv.URL),
		Timeout:   2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{ClientID: "c", Endpoints: FlatEndpoints("http://localhost:8080")},
		},
		{
			name:    "missing client id",
			cfg:     Config{Endpoints: FlatEndpoints("http://localhost:8080")},
			wantErr: true,
		},
		{
			name:    "missing endpoints",
			cfg:     Config{ClientID: "c"},
			wantErr: true,
		},
		{
			name:    "relative endpoint",
			cfg:     Config{ClientID: "c", Endpoints: Endpoints{DeviceAuthURL: "device", TokenURL: "token"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeycloakEndpoints(t *testing.T) {
	got := KeycloakEndpoints("http://localhost:8080/", "projetcis")
	want := Endpoints{
		DeviceAuthURL: "http://localhost:8080/realms/projetcis/protocol/openid-connect/auth/device",
		TokenURL:      "http://localhost:8080/realms/projetcis/protocol/openid-connect/token",
		RevocationURL: "http://localhost:8080/realms/projetcis/protocol/openid-connect/revoke",
		UserInfoURL:   "http://localhost:8080/realms/projetcis/protocol/openid-connect/userinfo",
		HealthURL:     "http://localhost:8080/health",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("KeycloakEndpoints() mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestDeviceCode(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      bool
		wantProtocol bool
		wantInterval time.Duration
	}{
		{
			name:         "success",
			status:       http.StatusOK,
			body:         `{"device_code":"dc","user_code":"ABCD-EFGH","verification_uri":"http://idp/device","verification_uri_complete":"http://idp/device?user_code=ABCD-EFGH","expires_in":600,"interval":3}`,
			wantInterval: 3 * time.Second,
		},
		{
			name:         "default interval",
			status:       http.StatusOK,
			body:         `{"device_code":"dc","user_code":"ABCD-EFGH","verification_uri":"http://idp/device","expires_in":600}`,
			wantInterval: defaultInterval,
		},
		{
			name:    "missing device code",
			status:  http.StatusOK,
			body:    `{"user_code":"ABCD-EFGH","verification_uri":"http://idp/device","expires_in":600}`,
			wantErr: true,
		},
		{
			name:    "missing expires_in",
			status:  http.StatusOK,
			body:    `{"device_code":"dc","user_code":"ABCD-EFGH","verification_uri":"http://idp/device"}`,
			wantErr: true,
		},
		{
			name:         "upstream error",
			status:       http.StatusBadRequest,
			body:         `{"error":"invalid_client"}`,
			wantErr:      true,
			wantProtocol: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotForm map[string][]string
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseForm(); err != nil {
					t.Errorf("parsing form: %v", err)
				}
				gotForm = r.PostForm
				writeBody(w, tt.status, tt.body)
			})

			auth, err := client.RequestDeviceCode(context.Background(), []string{"openid", "profile"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("RequestDeviceCode() error = %v, wantErr %v", err, tt.wantErr)
			}

			if got := gotForm["client_id"]; len(got) != 1 || got[0] != "devicecis" {
				t.Errorf("client_id = %v, want devicecis", got)
			}
			if got := gotForm["scope"]; len(got) != 1 || got[0] != "openid profile" {
				t.Errorf("scope = %v, want %q", got, "openid profile")
			}

			if tt.wantErr {
				var perr *ProtocolError
				if isProtocol := errors.As(err, &perr); isProtocol != tt.wantProtocol {
					t.Errorf("errors.As(ProtocolError) = %v, want %v", isProtocol, tt.wantProtocol)
				}
				if tt.wantProtocol && string(perr.Body) != tt.body {
					t.Errorf("ProtocolError body = %q, want %q", perr.Body, tt.body)
				}
				return
			}

			if auth.DeviceCode != "dc" || auth.UserCode != "ABCD-EFGH" {
				t.Errorf("unexpected codes: %+v", auth)
			}
			if auth.Interval != tt.wantInterval {
				t.Errorf("Interval = %v, want %v", auth.Interval, tt.wantInterval)
			}
			if remaining := time.Until(auth.ExpiresAt); remaining < 590*time.Second || remaining > 600*time.Second {
				t.Errorf("ExpiresAt %v away, want about 600s", remaining)
			}
		})
	}
}

func TestPollToken(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus TokenStatus
		wantToken  string
	}{
		{
			name:       "approved",
			status:     http.StatusOK,
			body:       `{"access_token":"at","token_type":"Bearer","expires_in":300,"scope":"openid"}`,
			wantStatus: TokenApproved,
			wantToken:  "at",
		},
		{
			name:       "approved without token",
			status:     http.StatusOK,
			body:       `{"token_type":"Bearer"}`,
			wantStatus: TokenTransientError,
		},
		{
			name:       "pending",
			status:     http.StatusBadRequest,
			body:       `{"error":"authorization_pending"}`,
			wantStatus: TokenPending,
		},
		{
			name:       "slow down",
			status:     http.StatusBadRequest,
			body:       `{"error":"slow_down"}`,
			wantStatus: TokenSlowDown,
		},
		{
			name:       "expired",
			status:     http.StatusBadRequest,
			body:       `{"error":"expired_token"}`,
			wantStatus: TokenExpired,
		},
		{
			name:       "invalid grant",
			status:     http.StatusBadRequest,
			body:       `{"error":"invalid_grant"}`,
			wantStatus: TokenExpired,
		},
		{
			name:       "denied",
			status:     http.StatusBadRequest,
			body:       `{"error":"access_denied"}`,
			wantStatus: TokenDenied,
		},
		{
			name:       "unknown error code",
			status:     http.StatusBadRequest,
			body:       `{"error":"server_error"}`,
			wantStatus: TokenTransientError,
		},
		{
			name:       "non json",
			status:     http.StatusBadGateway,
			body:       `<html>bad gateway</html>`,
			wantStatus: TokenTransientError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseForm(); err != nil {
					t.Errorf("parsing form: %v", err)
				}
				if got := r.PostForm.Get("grant_type"); got != "urn:ietf:params:oauth:grant-type:device_code" {
					t.Errorf("grant_type = %q", got)
				}
				if got := r.PostForm.Get("device_code"); got != "dc" {
					t.Errorf("device_code = %q", got)
				}
				writeBody(w, tt.status, tt.body)
			})

			result := client.PollToken(context.Background(), "dc")
			if result.Status != tt.wantStatus {
				t.Fatalf("PollToken() status = %v, want %v (err %v)", result.Status, tt.wantStatus, result.Err)
			}
			if tt.wantStatus == TokenTransientError && result.Err == nil {
				t.Error("expected error for transient result")
			}
			if tt.wantToken != "" {
				if result.Token == nil || result.Token.AccessToken != tt.wantToken {
					t.Fatalf("PollToken() token = %+v, want %q", result.Token, tt.wantToken)
				}
				if result.Token.TokenType != "Bearer" || result.Token.Scope != "openid" {
					t.Errorf("unexpected token fields: %+v", result.Token)
				}
			}
		})
	}
}

func TestPollTokenNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoints := FlatEndpoints(srv.URL)
	srv.Close()

	client, err := NewClient(Config{ClientID: "c", Endpoints: endpoints}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	result := client.PollToken(context.Background(), "dc")
	if result.Status != TokenTransientError || result.Err == nil {
		t.Errorf("PollToken() = %+v, want transient error", result)
	}
}

func TestRevokeToken(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   RevocationResult
	}{
		{name: "ok", status: http.StatusOK, want: RevocationOK},
		{name: "rejected", status: http.StatusServiceUnavailable, want: RevocationIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/revoke" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if err := r.ParseForm(); err != nil {
					t.Errorf("parsing form: %v", err)
				}
				if got := r.PostForm.Get("token"); got != "at" {
					t.Errorf("token = %q, want at", got)
				}
				w.WriteHeader(tt.status)
			})

			if got := client.RevokeToken(context.Background(), "at"); got != tt.want {
				t.Errorf("RevokeToken() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			writeBody(w, http.StatusUnauthorized, `{"error":"unauthorized"}`)
			return
		}
		writeBody(w, http.StatusOK, `{"sub":"user-1","email":"testuser@example.com","name":"Test User","preferred_username":"testuser"}`)
	})

	info, err := client.UserInfo(context.Background(), "good")
	if err != nil {
		t.Fatalf("UserInfo() error = %v", err)
	}
	if info.Subject != "user-1" || info.Email != "testuser@example.com" || info.PreferredUsername != "testuser" {
		t.Errorf("unexpected profile: %+v", info)
	}

	if _, err := client.UserInfo(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("UserInfo() error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestCheckHealth(t *testing.T) {
	var unhealthy atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeBody(w, http.StatusOK, `{"status":"OK"}`)
	})

	if err := client.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth() error = %v", err)
	}

	unhealthy.Store(true)
	if err := client.CheckHealth(context.Background()); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("CheckHealth() error = %v, want %v", err, ErrProviderUnavailable)
	}
}
