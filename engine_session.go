package authcore

import (
	"context"
	"errors"
	"time"

	internalflows "github.com/indigoroots/authcore/internal/flows"
)

// Session verifies token and returns the derived session view. An authentic
// but expired token yields a view with IsExpired set and a nil error; a
// token that fails signature, algorithm, issuer or audience checks yields
// [ErrTokenInvalid]. An empty token yields [ErrSessionNotFound].
func (e *Engine) Session(ctx context.Context, token string) (*SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricSessionLatency, time.Since(start)) }()
	}

	view, err := internalflows.RunSession(ctx, token, e.flows.Session)
	if err != nil {
		return nil, err
	}
	return e.sessionInfoFromView(view), nil
}

// RefreshSession is [Engine.Session] for callers that need a live session:
// it returns [ErrSessionExpired] instead of an expired view.
func (e *Engine) RefreshSession(ctx context.Context, token string) (*SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	view, err := internalflows.RunRefreshSession(ctx, token, e.flows.Session)
	if err != nil {
		return nil, err
	}
	return e.sessionInfoFromView(view), nil
}

func (e *Engine) sessionFlowDeps() internalflows.SessionDeps {
	return internalflows.SessionDeps{
		RememberMeThreshold: e.config.Session.RememberMeThreshold,
		Leeway:              e.jwt.Leeway(),
		Now:                 e.now,
		ParseToken: func(token string, now time.Time) (internalflows.SessionClaimsView, error) {
			claims, err := e.jwt.Parse(token, now)
			if err != nil {
				return internalflows.SessionClaimsView{}, err
			}
			if claims.ExpiresAt == nil {
				return internalflows.SessionClaimsView{}, errors.New("session token has no expiry")
			}
			view := internalflows.SessionClaimsView{
				User: internalflows.SessionUser{
					ID:      claims.Subject,
					Email:   claims.Email,
					Name:    claims.Name,
					Picture: claims.Picture,
					Role:    claims.Role,
				},
				ExpiresAt:  claims.ExpiresAt.Time,
				RememberMe: claims.RememberMe,
			}
			if claims.IssuedAt != nil {
				view.IssuedAt = claims.IssuedAt.Time
			}
			return view, nil
		},
		MetricInc: e.flowMetricInc,
		Metrics: internalflows.SessionMetrics{
			SessionValidated: int(MetricSessionValidated),
			SessionInvalid:   int(MetricSessionInvalid),
			SessionExpired:   int(MetricSessionExpired),
		},
		Errors: internalflows.SessionErrors{
			EngineNotReady:  ErrEngineNotReady,
			TokenInvalid:    ErrTokenInvalid,
			SessionNotFound: ErrSessionNotFound,
			SessionExpired:  ErrSessionExpired,
		},
	}
}

func (e *Engine) sessionInfoFromView(v internalflows.SessionView) *SessionInfo {
	return &SessionInfo{
		User:               sessionUserFromFlow(v.User),
		IssuedAt:           v.IssuedAt,
		ExpiresAt:          v.ExpiresAt,
		IsExpired:          v.IsExpired,
		TimeUntilExpiry:    v.TimeUntilExpiry,
		IsRememberMe:       v.IsRememberMe,
		expiringSoonWindow: e.config.Session.ExpiringSoonWindow,
	}
}
