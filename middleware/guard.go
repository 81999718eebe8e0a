package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/indigoroots/authcore"
	"github.com/indigoroots/authcore/permission"
)

// SessionResolver resolves a token into a session view. *authcore.Engine
// satisfies it.
type SessionResolver interface {
	Session(ctx context.Context, token string) (*authcore.SessionInfo, error)
}

// TokenExtractor reads a session token from a request. It returns "" when
// the request carries none.
type TokenExtractor func(*http.Request) string

// BearerToken reads the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	const bearer = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, bearer) {
		return ""
	}
	return strings.TrimSpace(value[len(bearer):])
}

// CookieToken reads the token from the session cookie held by store.
func CookieToken(store interface{ Token(*http.Request) string }) TokenExtractor {
	return store.Token
}

// FirstToken returns the first non-empty token produced by extractors.
func FirstToken(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) string {
		for _, extract := range extractors {
			if token := extract(r); token != "" {
				return token
			}
		}
		return ""
	}
}

// resolve returns the session for r, or nil when the request carries no
// usable token.
func resolve(r *http.Request, engine SessionResolver, extract TokenExtractor) *authcore.SessionInfo {
	if engine == nil || extract == nil {
		return nil
	}
	token := extract(r)
	if token == "" {
		return nil
	}
	info, err := engine.Session(r.Context(), token)
	if err != nil {
		return nil
	}
	return info
}

// Guard enforces policy on every request. Expired sessions count as
// unauthenticated. The resolved session, when any, is attached to the
// request context for [authcore.SessionFromContext].
func Guard(engine SessionResolver, policy *permission.RoutePolicy, extract TokenExtractor) func(http.Handler) http.Handler {
	if policy == nil {
		policy = permission.DefaultRoutePolicy()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := resolve(r, engine, extract)

			decision := policy.Decide(r.URL.Path, info.IsAuthenticated(), info.UserRole())
			if decision.Action != permission.Allow {
				http.Redirect(w, r, decision.Location, http.StatusFound)
				return
			}

			if info != nil {
				r = r.WithContext(authcore.WithSession(r.Context(), info))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests without an authenticated session with 401 and
// sessions below required with 403. It reuses a session attached by [Guard] and
// resolves one through engine otherwise.
func RequireRole(engine SessionResolver, extract TokenExtractor, required permission.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := authcore.SessionFromContext(r.Context())
			if info == nil {
				info = resolve(r, engine, extract)
			}

			if !info.IsAuthenticated() {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !info.HasRole(required) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(authcore.WithSession(r.Context(), info)))
		})
	}
}
