// Package internal contains helper utilities that are private to authcore,
// chiefly secure token generation and at-rest token hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function flow orchestrators for every Engine operation
//   - limiters: Redis fixed-window throttles for reset and registration requests
//   - rate: Redis login throttle
//   - logger: process-wide zerolog logger
//   - httpapi: chi router exposing the auth JSON API
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
