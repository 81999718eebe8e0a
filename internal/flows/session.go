package flows

import (
	"context"
	"time"
)

// SessionClaimsView is the flow-local view of verified session claims.
type SessionClaimsView struct {
	User       SessionUser
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RememberMe *bool
}

// SessionView is the derived, non-persisted session state.
type SessionView struct {
	User            SessionUser
	IssuedAt        time.Time
	ExpiresAt       time.Time
	IsExpired       bool
	TimeUntilExpiry time.Duration
	IsRememberMe    bool
}

type SessionMetrics struct {
	SessionValidated int
	SessionInvalid   int
	SessionExpired   int
}

type SessionErrors struct {
	EngineNotReady  error
	TokenInvalid    error
	SessionNotFound error
	SessionExpired  error
}

type SessionDeps struct {
	RememberMeThreshold time.Duration
	// Leeway extends exp before a session counts as expired.
	Leeway              time.Duration

	Now        func() time.Time
	ParseToken func(string, time.Time) (SessionClaimsView, error)

	MetricInc func(int)

	Metrics SessionMetrics
	Errors  SessionErrors
}

// RunSession verifies token and derives the session view. An authentic but
// expired token yields a view with IsExpired set, not an error. A session is
// expired only once now is strictly after exp plus the leeway.
func RunSession(ctx context.Context, token string, deps SessionDeps) (SessionView, error) {
	normalizeSessionDeps(&deps)

	if deps.ParseToken == nil {
		return SessionView{}, deps.Errors.EngineNotReady
	}
	if err := ctx.Err(); err != nil {
		return SessionView{}, err
	}
	if token == "" {
		return SessionView{}, deps.Errors.SessionNotFound
	}

	now := deps.Now()
	claims, err := deps.ParseToken(token, now)
	if err != nil {
		deps.MetricInc(deps.Metrics.SessionInvalid)
		return SessionView{}, deps.Errors.TokenInvalid
	}

	remaining := claims.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	view := SessionView{
		User:            claims.User,
		IssuedAt:        claims.IssuedAt,
		ExpiresAt:       claims.ExpiresAt,
		IsExpired:       now.After(claims.ExpiresAt.Add(deps.Leeway)),
		TimeUntilExpiry: remaining,
	}
	if claims.RememberMe != nil {
		view.IsRememberMe = *claims.RememberMe
	} else {
		view.IsRememberMe = remaining > deps.RememberMeThreshold
	}

	if view.IsExpired {
		deps.MetricInc(deps.Metrics.SessionExpired)
	} else {
		deps.MetricInc(deps.Metrics.SessionValidated)
	}
	return view, nil
}

// RunRefreshSession is RunSession that rejects expired sessions.
func RunRefreshSession(ctx context.Context, token string, deps SessionDeps) (SessionView, error) {
	view, err := RunSession(ctx, token, deps)
	if err != nil {
		return SessionView{}, err
	}
	if view.IsExpired {
		return SessionView{}, deps.Errors.SessionExpired
	}
	return view, nil
}

func normalizeSessionDeps(deps *SessionDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
}
