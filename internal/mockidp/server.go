package mockidp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// statusIssued marks an approved authorization whose token has been handed out
const statusIssued Status = "issued"

const (
	errInvalidRequest       = "invalid_request"
	errInvalidGrant         = "invalid_grant"
	errUnsupportedGrantType = "unsupported_grant_type"
	errAuthorizationPending = "authorization_pending"
	errSlowDown             = "slow_down"
	errExpiredToken         = "expired_token"
	errAccessDenied         = "access_denied"
	errServerError          = "server_error"
)

// Server is an in-process authorization server implementing the device
// authorization grant endpoints
type Server struct {
	cfg      Config
	registry Registry
	issuer   *TokenIssuer
	router   *chi.Mux
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	approvals map[string]*time.Timer
	closed    bool
}

// NewServer creates a mock authorization server backed by registry
func NewServer(cfg Config, registry Registry, opts ...Option) *Server {
	cfg.applyDefaults()

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		router:    chi.NewRouter(),
		now:       time.Now,
		approvals: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	profile := DefaultProfile()
	s.issuer = NewTokenIssuer(cfg.SigningKey, cfg.Issuer, profile.Subject, cfg.TokenTTL)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(cors)

	s.router.Get("/health", s.handleHealth)

	s.router.Post("/device/authorize", s.handleDeviceAuthorization)
	s.router.Post("/token", s.handleToken)
	s.router.Post("/revoke", s.handleRevoke)
	s.router.Get("/userinfo", s.handleUserInfo)
	s.router.Post("/device/approve", s.handleDecision(StatusApproved))
	s.router.Post("/device/deny", s.handleDecision(StatusDenied))

	if s.cfg.Realm != "" {
		s.router.Route("/realms/{realm}", func(r chi.Router) {
			r.Use(s.requireRealm)
			r.Post("/device/approve", s.handleDecision(StatusApproved))
			r.Post("/device/deny", s.handleDecision(StatusDenied))
			r.Route("/protocol/openid-connect", func(r chi.Router) {
				r.Post("/auth/device", s.handleDeviceAuthorization)
				r.Post("/token", s.handleToken)
				r.Post("/revoke", s.handleRevoke)
				r.Get("/userinfo", s.handleUserInfo)
			})
		})
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops all pending auto-approvals
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for code, timer := range s.approvals {
		timer.Stop()
		delete(s.approvals, code)
	}
}

// handleDeviceAuthorization issues a device code per RFC 8628 section 3.2
func (s *Server) handleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "Invalid request format")
		return
	}

	clientID := r.PostForm.Get("client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "The client_id parameter is REQUIRED")
		return
	}
	scope := r.PostForm.Get("scope")
	if scope == "" {
		scope = "openid"
	}

	deviceCode, err := generateDeviceCode()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	userCode, err := generateUserCode()
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	now := s.now()
	auth := &Authorization{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   clientID,
		Scope:      scope,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.CodeExpiry),
	}
	if err := s.registry.Save(r.Context(), auth); err != nil {
		s.serverError(w, r, fmt.Errorf("saving authorization: %w", err))
		return
	}
	s.scheduleApproval(deviceCode)

	verificationURI := s.verificationURI(r)
	s.logger.InfoContext(r.Context(), "device code issued",
		slog.String("client_id", clientID),
		slog.String("user_code", userCode),
		slog.String("scope", scope))

	writeJSON(w, http.StatusOK, oidc.DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + userCode,
		ExpiresIn:               int(s.cfg.CodeExpiry / time.Second),
		Interval:                int(s.cfg.PollInterval / time.Second),
	})
}

// handleToken answers device access token requests per RFC 8628 section 3.4
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "Invalid request format")
		return
	}

	if r.PostForm.Get("grant_type") != string(oidc.GrantTypeDeviceCode) {
		writeError(w, http.StatusBadRequest, errUnsupportedGrantType,
			"Only "+string(oidc.GrantTypeDeviceCode)+" is supported")
		return
	}

	deviceCode := r.PostForm.Get("device_code")
	if deviceCode == "" {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "The device_code parameter is REQUIRED")
		return
	}

	ctx := r.Context()
	auth, err := s.registry.Get(ctx, deviceCode)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if auth == nil {
		writeError(w, http.StatusBadRequest, errInvalidGrant, "Unknown device code")
		return
	}
	if r.PostForm.Get("client_id") != auth.ClientID {
		writeError(w, http.StatusBadRequest, errInvalidGrant, "The device code was issued to another client")
		return
	}

	now := s.now()
	if auth.Expired(now) {
		s.forget(ctx, deviceCode)
		writeError(w, http.StatusBadRequest, errExpiredToken, "The device code has expired")
		return
	}

	if s.cfg.EnforceInterval {
		prev, err := s.registry.RecordPoll(ctx, deviceCode, now)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		if !prev.IsZero() && now.Sub(prev) < s.cfg.PollInterval {
			writeError(w, http.StatusBadRequest, errSlowDown, "Polling too frequently")
			return
		}
	}

	switch auth.Status {
	case StatusPending:
		writeError(w, http.StatusBadRequest, errAuthorizationPending, "The user has not yet completed authorization")
	case StatusDenied:
		s.forget(ctx, deviceCode)
		writeError(w, http.StatusBadRequest, errAccessDenied, "The user denied the authorization request")
	case StatusApproved:
		s.issueToken(w, r, auth)
	default:
		writeError(w, http.StatusBadRequest, errInvalidGrant, "The device code has already been used")
	}
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, auth *Authorization) {
	ctx := r.Context()

	// only the poll winning the transition receives a token
	won, err := s.registry.Transition(ctx, auth.DeviceCode, StatusApproved, statusIssued)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if !won {
		writeError(w, http.StatusBadRequest, errInvalidGrant, "The device code has already been used")
		return
	}
	s.forget(ctx, auth.DeviceCode)

	accessToken, idToken, err := s.issuer.Issue(auth, s.now())
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	s.logger.InfoContext(ctx, "token issued",
		slog.String("client_id", auth.ClientID),
		slog.String("user_code", auth.UserCode))

	writeJSON(w, http.StatusOK, oidc.AccessTokenResponse{
		AccessToken: accessToken,
		TokenType:   oidc.BearerToken,
		ExpiresIn:   uint64(s.issuer.TTL() / time.Second),
		IDToken:     idToken,
		Scope:       oidc.SpaceDelimitedArray(strings.Fields(auth.Scope)),
	})
}

// handleRevoke accepts any token per RFC 7009 section 2.2
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		s.logger.DebugContext(r.Context(), "token revoked",
			slog.String("client_id", r.PostForm.Get("client_id")),
			slog.Bool("token_present", r.PostForm.Get("token") != ""))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), oidc.PrefixBearer)
	if !ok || strings.TrimSpace(token) == "" {
		w.Header().Set("WWW-Authenticate", oidc.BearerToken)
		writeError(w, http.StatusUnauthorized, "unauthorized", "A bearer token is required")
		return
	}

	writeJSON(w, http.StatusOK, DefaultProfile())
}

// handleDecision records the user's decision for a user code, standing in for
// the verification page
func (s *Server) handleDecision(to Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, errInvalidRequest, "Invalid request format")
			return
		}

		userCode := r.Form.Get("user_code")
		if userCode == "" {
			writeError(w, http.StatusBadRequest, errInvalidRequest, "The user_code parameter is REQUIRED")
			return
		}

		ctx := r.Context()
		auth, err := s.registry.GetByUserCode(ctx, userCode)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		if auth == nil || auth.Expired(s.now()) {
			writeError(w, http.StatusNotFound, errInvalidGrant, ErrNotFound.Error())
			return
		}

		changed, err := s.registry.Transition(ctx, auth.DeviceCode, StatusPending, to)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		if !changed {
			writeError(w, http.StatusConflict, errInvalidRequest, "The authorization has already been decided")
			return
		}
		s.cancelApproval(auth.DeviceCode)

		s.logger.InfoContext(ctx, "authorization decided",
			slog.String("user_code", auth.UserCode),
			slog.String("status", string(to)))

		writeJSON(w, http.StatusOK, map[string]string{
			"user_code": auth.UserCode,
			"status":    string(to),
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status":  "OK",
		"service": "mock-authserver",
	}

	status := http.StatusOK
	if err := s.registry.CheckHealth(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func (s *Server) requireRealm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "realm") != s.cfg.Realm {
			writeError(w, http.StatusNotFound, "realm_not_found", "Realm does not exist")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// scheduleApproval arms the one-shot timer that simulates the user approving
func (s *Server) scheduleApproval(deviceCode string) {
	if s.cfg.AutoApproveDelay <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.approvals[deviceCode] = time.AfterFunc(s.cfg.AutoApproveDelay, func() {
		s.autoApprove(deviceCode)
	})
}

func (s *Server) autoApprove(deviceCode string) {
	s.mu.Lock()
	_, armed := s.approvals[deviceCode]
	delete(s.approvals, deviceCode)
	s.mu.Unlock()

	// the code was consumed, expired or decided before the timer fired
	if !armed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changed, err := s.registry.Transition(ctx, deviceCode, StatusPending, StatusApproved)
	if err != nil {
		s.logger.Warn("auto-approval failed", slog.Any("error", err))
		return
	}
	if changed {
		s.logger.Info("device code auto-approved")
	}
}

func (s *Server) cancelApproval(deviceCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.approvals[deviceCode]; ok {
		timer.Stop()
		delete(s.approvals, deviceCode)
	}
}

// forget deletes an authorization together with its pending approval
func (s *Server) forget(ctx context.Context, deviceCode string) {
	s.cancelApproval(deviceCode)
	if err := s.registry.Delete(ctx, deviceCode); err != nil {
		s.logger.WarnContext(ctx, "deleting authorization failed", slog.Any("error", err))
	}
}

func (s *Server) verificationURI(r *http.Request) string {
	base := strings.TrimSuffix(s.cfg.BaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	if s.cfg.Realm != "" {
		return base + "/realms/" + s.cfg.Realm + "/device"
	}
	return base + "/device"
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.ErrorContext(r.Context(), "request failed",
		slog.String("path", r.URL.Path), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, errServerError, "Internal server error")
}

// cors allows browser clients on any origin
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encoding response failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}
