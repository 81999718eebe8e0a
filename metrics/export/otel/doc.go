// Package otel binds authcore's in-process metrics to an OpenTelemetry
// [metric.Meter].
//
// Related engine counters share one dotted instrument and are split by an
// attribute: authcore.login.attempts{outcome}, authcore.sessions{event},
// authcore.registrations{outcome}, authcore.password_reset.events{stage} and
// authcore.email_verification.events{stage}. The remaining counters get an
// instrument each. Session latency is published as the
// authcore.session.latency.bucket gauge keyed by le, plus
// authcore.session.latency.count.
//
// One callback reads the engine snapshot per collection. Callers own the
// MeterProvider.
package otel
