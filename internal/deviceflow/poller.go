package deviceflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/wrale/device-flow-session/internal/oauth"
)

// poller polls the token endpoint for one session until it reaches a terminal
// outcome, its deadline passes, or it is retired by cancelling its context.
type poller struct {
	flow       *Flow
	sessionID  string
	deviceCode string
	interval   time.Duration
	expiresAt  time.Time
	cancel     context.CancelFunc
}

func (p *poller) run(ctx context.Context) {
	defer p.cancel()

	logger := p.flow.logger.With(slog.String("session", p.sessionID))

	deadline := time.NewTimer(time.Until(p.expiresAt))
	defer deadline.Stop()

	tick := time.NewTimer(p.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("poller retired")
			return
		case <-deadline.C:
			if p.flow.expire(p.sessionID) {
				logger.Info("device code expired before authorization")
			}
			return
		case <-tick.C:
		}

		if !p.poll(ctx, logger) {
			return
		}
		tick.Reset(p.interval)
	}
}

// poll performs one tick and reports whether polling should continue
func (p *poller) poll(ctx context.Context, logger *slog.Logger) bool {
	// a call in flight never outlives the device code
	callDeadline := time.Now().Add(p.flow.pollTimeout)
	if p.expiresAt.Before(callDeadline) {
		callDeadline = p.expiresAt
	}
	pctx, cancel := context.WithDeadline(ctx, callDeadline)
	result := p.flow.client.PollToken(pctx, p.deviceCode)
	cancel()

	if ctx.Err() != nil {
		logger.Debug("discarding poll result of retired session", slog.String("result", result.Status.String()))
		return false
	}
	if !time.Now().Before(p.expiresAt) {
		if p.flow.expire(p.sessionID) {
			logger.Info("device code expired before authorization",
				slog.String("late_result", result.Status.String()))
		}
		return false
	}

	switch result.Status {
	case oauth.TokenApproved:
		user := p.fetchUser(ctx, logger, result.Token)
		if p.flow.approve(p.sessionID, result.Token, user) {
			logger.Info("device authorized", slog.String("scope", result.Token.Scope))
		}
		return false

	case oauth.TokenPending:
		logger.Debug("authorization pending")
		return true

	case oauth.TokenSlowDown:
		interval, ok := p.flow.slowDown(p.sessionID)
		if !ok {
			return false
		}
		p.interval = interval
		logger.Info("slowing down polling", slog.Duration("interval", interval))
		return true

	case oauth.TokenExpired, oauth.TokenDenied:
		if p.flow.expire(p.sessionID) {
			logger.Info("device authorization ended", slog.String("result", result.Status.String()))
		}
		return false

	default:
		logger.Warn("token poll failed", slog.Any("error", result.Err))
		return true
	}
}

// fetchUser loads the profile for a fresh token. Failures yield an empty profile.
func (p *poller) fetchUser(ctx context.Context, logger *slog.Logger, token *oauth.Token) *oidc.UserInfo {
	uctx, cancel := context.WithTimeout(ctx, p.flow.pollTimeout)
	defer cancel()

	user, err := p.flow.client.UserInfo(uctx, token.AccessToken)
	if err != nil {
		logger.Warn("fetching user profile failed", slog.Any("error", err))
		return &oidc.UserInfo{}
	}
	return user
}
