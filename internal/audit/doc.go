// Package audit implements async event dispatching for security-relevant
// operations such as sign-in, password reset and email verification.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zerolog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, user, IP and metadata.
//
// The package owns buffering and delivery only. Which events are emitted is
// decided by the Engine and the flow functions.
package audit
