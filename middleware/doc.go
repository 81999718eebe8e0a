// Package middleware exposes net/http adapters that resolve the caller's
// session and enforce role-gated routes.
//
// # Guards
//
//   - [Guard] applies a [permission.RoutePolicy] to page requests and answers
//     refusals with 302 redirects.
//   - [RequireRole] answers API requests with 401 or 403.
//
// Both read the token through a [TokenExtractor] ([BearerToken],
// [CookieToken], or [FirstToken] combining them), resolve it through the
// Engine, and attach the resulting SessionInfo to the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or decide role order itself.
package middleware
