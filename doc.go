// Package authcore is the session and authorization core of a small content
// site: credential and OAuth sign-in, signed stateless sessions, password
// reset and email verification tokens, and a three-level role hierarchy.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], and
// value types such as [SessionInfo] and [MetricsSnapshot]. Flow orchestration,
// rate limiting, audit dispatch and metrics live under internal/. Persistence is
// reached only through the store contracts, so any backend under store/ can be
// plugged in.
//
// # Token lifecycle
//
// Reset and verification tokens are 32 random bytes, hex encoded, and stored
// only as SHA-256 hashes. Each token is single use: a reset token is marked
// used, a verification token is deleted. Expiry wins over every other state.
//
// # What this package must NOT do
//
//   - Reveal whether an email address has an account.
//   - Return an error from email delivery. Failures are logged and counted.
//   - Import a sub-package that re-imports authcore.
package authcore
