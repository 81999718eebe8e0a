// Package jwt issues and verifies the signed session claims that stand in for
// server-side sessions.
//
// Every token carries sub, role, email, name, picture, an explicit remember-me
// flag and the registered exp/iat/iss/aud/jti claims. [Manager.Parse] checks
// the signature, algorithm, key id, issuer and audience before any claim is
// trusted, but leaves expiry to the caller so an expired session can still be
// reported as such.
package jwt
