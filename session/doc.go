// Package session carries signed session tokens between the browser and the
// server in gorilla/sessions cookies.
//
// Sessions are stateless signed claims, so the cookie holds the token and
// nothing else is persisted. A short-lived second cookie keeps the OAuth
// state parameter between the redirect and the callback.
//
// # Architecture boundaries
//
// This package moves opaque strings. It does NOT parse or verify tokens and
// does not import authcore; verification belongs to the Engine.
package session
