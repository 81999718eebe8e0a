package permission

import (
	"errors"
	"strings"
	"sync"
)

const (
	// SignInPath is where unauthenticated requests for non-public routes are sent.
	SignInPath = "/signin"
	// UserLandingPath is where a USER without enough privilege is sent.
	UserLandingPath = "/profile"
	// DefaultLandingPath is where any other under-privileged role is sent.
	DefaultLandingPath = "/"
)

// Action is the outcome of a route decision.
type Action int

const (
	// Allow lets the request through.
	Allow Action = iota
	// RedirectSignIn sends an unauthenticated caller to the sign-in page.
	RedirectSignIn
	// RedirectLanding sends an authenticated but under-privileged caller to
	// their role's landing page.
	RedirectLanding
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case RedirectSignIn:
		return "redirect_signin"
	case RedirectLanding:
		return "redirect_landing"
	default:
		return "unknown"
	}
}

// Decision is returned by [RoutePolicy.Decide].
type Decision struct {
	Action   Action
	Location string
	// Required is the minimum role of the matched rule, empty when no rule matched.
	Required Role
}

type protectedRule struct {
	prefix  string
	minRole Role
}

// RoutePolicy maps request paths to access decisions.
//
// Public routes bypass every check. Every other path needs a session.
// Protected prefixes additionally require a minimum role; they are evaluated
// in registration order and the first match wins. A policy is mutable until
// [RoutePolicy.Freeze].
type RoutePolicy struct {
	mu        sync.RWMutex
	public    []string
	protected []protectedRule
	frozen    bool
}

// NewRoutePolicy returns an empty policy.
func NewRoutePolicy() *RoutePolicy {
	return &RoutePolicy{}
}

// DefaultRoutePolicy returns the frozen policy for the application's pages
// and auth API.
func DefaultRoutePolicy() *RoutePolicy {
	p := NewRoutePolicy()
	for _, route := range []string{
		"/",
		"/signin",
		"/signup",
		"/forgot-password",
		"/reset-password",
		"/verify-email",
		"/api/auth/signin",
		"/api/auth/register",
		"/api/auth/forgot-password",
		"/api/auth/reset-password",
		"/api/auth/verify-email",
		"/api/auth/session",
		"/api/auth/signout",
		"/api/auth/oauth",
	} {
		_ = p.AddPublic(route)
	}
	_ = p.Protect("/admin", RoleAdmin)
	_ = p.Protect("/editor", RoleBlogEditor)
	_ = p.Protect("/profile", RoleUser)
	p.Freeze()
	return p
}

// AddPublic registers a route reachable without a session. The route matches
// itself and anything below it.
func (p *RoutePolicy) AddPublic(route string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frozen {
		return errors.New("route policy frozen")
	}
	if !strings.HasPrefix(route, "/") {
		return errors.New("route must start with /")
	}
	p.public = append(p.public, route)
	return nil
}

// Protect requires at least minRole for every path starting with prefix.
func (p *RoutePolicy) Protect(prefix string, minRole Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frozen {
		return errors.New("route policy frozen")
	}
	if !strings.HasPrefix(prefix, "/") {
		return errors.New("route must start with /")
	}
	if !minRole.Valid() {
		return ErrUnknownRole
	}
	p.protected = append(p.protected, protectedRule{prefix: prefix, minRole: minRole})
	return nil
}

// Freeze makes the policy read-only.
func (p *RoutePolicy) Freeze() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = true
}

// IsPublic reports whether path is a public route.
func (p *RoutePolicy) IsPublic(path string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isPublicLocked(path)
}

// RequiredRole returns the minimum role of the first protected rule matching
// path, or false when none matches.
func (p *RoutePolicy) RequiredRole(path string) (Role, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.requiredRoleLocked(path)
}

// Decide evaluates a request for path by a caller with the given role.
// authenticated is false when there is no valid session.
func (p *RoutePolicy) Decide(path string, authenticated bool, role Role) Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isPublicLocked(path) {
		return Decision{Action: Allow}
	}
	required, protected := p.requiredRoleLocked(path)
	if !authenticated {
		return Decision{Action: RedirectSignIn, Location: SignInPath, Required: required}
	}
	if !protected {
		return Decision{Action: Allow}
	}
	if !HasRole(role, required) {
		return Decision{Action: RedirectLanding, Location: LandingPath(role), Required: required}
	}
	return Decision{Action: Allow, Required: required}
}

// LandingPath returns where a caller with role is sent when refused.
func LandingPath(role Role) string {
	if role == RoleUser {
		return UserLandingPath
	}
	return DefaultLandingPath
}

func (p *RoutePolicy) isPublicLocked(path string) bool {
	for _, route := range p.public {
		if path == route || strings.HasPrefix(path, route+"/") {
			return true
		}
	}
	return false
}

func (p *RoutePolicy) requiredRoleLocked(path string) (Role, bool) {
	for _, rule := range p.protected {
		if strings.HasPrefix(path, rule.prefix) {
			return rule.minRole, true
		}
	}
	return "", false
}
