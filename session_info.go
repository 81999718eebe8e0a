package authcore

import (
	"fmt"
	"time"

	"github.com/indigoroots/authcore/permission"
)

// DefaultExpiringSoonWindow is used by a SessionInfo built outside the engine.
const DefaultExpiringSoonWindow = time.Hour

// SessionInfo is the derived, non-persisted view of a session token. All
// methods accept a nil receiver and then describe an anonymous caller.
type SessionInfo struct {
	User            SessionUser
	IssuedAt        time.Time
	ExpiresAt       time.Time
	IsExpired       bool
	TimeUntilExpiry time.Duration
	IsRememberMe    bool

	expiringSoonWindow time.Duration
}

// ExpiryInfo summarises session expiry for clients.
type ExpiryInfo struct {
	ExpiresAt       time.Time
	TimeUntilExpiry time.Duration
	IsExpired       bool
	IsExpiringSoon  bool
	IsRememberMe    bool
}

// IsAuthenticated reports a present, unexpired session with a subject.
func (s *SessionInfo) IsAuthenticated() bool {
	return s != nil && !s.IsExpired && s.User.ID != ""
}

// HasRole reports whether the session's role is at least required.
func (s *SessionInfo) HasRole(required permission.Role) bool {
	if !s.IsAuthenticated() {
		return false
	}
	return permission.HasRole(s.User.Role, required)
}

func (s *SessionInfo) IsAdmin() bool {
	return s.HasRole(permission.RoleAdmin)
}

// IsEditor is true for blog editors and admins.
func (s *SessionInfo) IsEditor() bool {
	return s.HasRole(permission.RoleBlogEditor)
}

func (s *SessionInfo) UserRole() permission.Role {
	if s == nil {
		return ""
	}
	return s.User.Role
}

func (s *SessionInfo) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

func (s *SessionInfo) UserEmail() string {
	if s == nil {
		return ""
	}
	return s.User.Email
}

// IsExpiringSoon is true while the remaining lifetime is positive and below
// the expiring-soon window.
func (s *SessionInfo) IsExpiringSoon() bool {
	if s == nil || s.IsExpired {
		return false
	}
	window := s.expiringSoonWindow
	if window <= 0 {
		window = DefaultExpiringSoonWindow
	}
	return s.TimeUntilExpiry > 0 && s.TimeUntilExpiry < window
}

func (s *SessionInfo) ExpiryInfo() ExpiryInfo {
	if s == nil {
		return ExpiryInfo{IsExpired: true}
	}
	return ExpiryInfo{
		ExpiresAt:       s.ExpiresAt,
		TimeUntilExpiry: s.TimeUntilExpiry,
		IsExpired:       s.IsExpired,
		IsExpiringSoon:  s.IsExpiringSoon(),
		IsRememberMe:    s.IsRememberMe,
	}
}

func (s *SessionInfo) FormattedTimeUntilExpiry() string {
	if s == nil {
		return FormatTimeUntilExpiry(0)
	}
	return FormatTimeUntilExpiry(s.TimeUntilExpiry)
}

// FormatTimeUntilExpiry renders d using its two most significant whole units:
// "2 days 3 hours", "1 hour 30 minutes", "5 minutes", or "Expired" when d is
// not positive.
func FormatTimeUntilExpiry(d time.Duration) string {
	if d <= 0 {
		return "Expired"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	switch {
	case days > 0:
		return plural(days, "day") + " " + plural(hours, "hour")
	case hours > 0:
		return plural(hours, "hour") + " " + plural(minutes, "minute")
	default:
		return plural(minutes, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
