package authcore

import "context"

type clientIPContextKey struct{}
type sessionContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP rate limiting and audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithSession attaches a resolved session to ctx. The HTTP guard calls it
// once per request.
func WithSession(ctx context.Context, info *SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, info)
}

// SessionFromContext returns the session attached by [WithSession], or nil.
// All [SessionInfo] query methods accept a nil receiver.
func SessionFromContext(ctx context.Context) *SessionInfo {
	if ctx == nil {
		return nil
	}
	info, _ := ctx.Value(sessionContextKey{}).(*SessionInfo)
	return info
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
