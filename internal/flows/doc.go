// Package flows contains the orchestration behind every Engine operation.
//
// Each Run function (RunLogin, RunSession, RunResetPassword, RunVerifyEmail
// and the rest) takes a typed dependency struct of closures and sentinel
// errors and returns a result. Flows never import the root package, so the
// engine maps its own errors, metric ids and audit event names in through
// the Errors, Metrics and Events sub-structs.
//
// # Architecture boundaries
//
// Flows coordinate calls to the user and token stores, the session signer,
// rate limiters, the mailer, the audit dispatcher and metrics. They own none
// of these; the Engine does.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly. All I/O goes through the dependency closures.
//
// Token lifecycles share one model: a [ConsumableToken] is evaluated as
// missing, used, expired or valid, and retired by the configured
// [ConsumeStrategy].
package flows
