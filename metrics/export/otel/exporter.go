package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/indigoroots/authcore"
	"github.com/indigoroots/authcore/metrics/export/internaldefs"
)

// Construction errors.
var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// member is one engine counter inside a family. An empty value means the
// family has a single member and is observed without attributes.
type member struct {
	id    authcore.MetricID
	value string
}

// family is one OTel counter covering related engine counters, told apart
// by the attribute key.
type family struct {
	name    string
	desc    string
	unit    string
	key     string
	members []member
}

var families = []family{
	{
		name: "authcore.login.attempts", desc: "Sign-in attempts by outcome.", unit: "{attempt}", key: "outcome",
		members: []member{
			{authcore.MetricLoginSuccess, "success"},
			{authcore.MetricLoginFailure, "failure"},
			{authcore.MetricLoginRateLimited, "rate_limited"},
		},
	},
	{
		name: "authcore.oauth.users_created", desc: "Accounts created by a first OAuth sign-in.", unit: "{account}",
		members: []member{{authcore.MetricOAuthUserCreated, ""}},
	},
	{
		name: "authcore.sessions", desc: "Session tokens by lifecycle event.", unit: "{session}", key: "event",
		members: []member{
			{authcore.MetricSessionCreated, "issued"},
			{authcore.MetricSessionValidated, "validated"},
			{authcore.MetricSessionInvalid, "invalid"},
			{authcore.MetricSessionExpired, "expired"},
		},
	},
	{
		name: "authcore.rate_limit.hits", desc: "Requests denied by a rate limiter.", unit: "{request}",
		members: []member{{authcore.MetricRateLimitHit, ""}},
	},
	{
		name: "authcore.registrations", desc: "Registration attempts by outcome.", unit: "{attempt}", key: "outcome",
		members: []member{
			{authcore.MetricRegistration, "created"},
			{authcore.MetricRegistrationRateLimited, "rate_limited"},
		},
	},
	{
		name: "authcore.password_reset.events", desc: "Password-reset lifecycle events.", unit: "{event}", key: "stage",
		members: []member{
			{authcore.MetricPasswordResetRequest, "request"},
			{authcore.MetricPasswordResetConfirmSuccess, "confirm_success"},
			{authcore.MetricPasswordResetConfirmFailure, "confirm_failure"},
			{authcore.MetricPasswordResetReplay, "replay"},
		},
	},
	{
		name: "authcore.email_verification.events", desc: "Email-verification lifecycle events.", unit: "{event}", key: "stage",
		members: []member{
			{authcore.MetricEmailVerificationRequest, "request"},
			{authcore.MetricEmailVerificationSuccess, "success"},
			{authcore.MetricEmailVerificationFailure, "failure"},
		},
	},
	{
		name: "authcore.email.delivery_failures", desc: "Account emails that could not be delivered.", unit: "{email}",
		members: []member{{authcore.MetricEmailDeliveryFailure, ""}},
	},
	{
		name: "authcore.tokens.cleaned", desc: "Expired reset and verification tokens removed.", unit: "{token}",
		members: []member{{authcore.MetricTokensCleaned, ""}},
	},
}

const (
	latencyBucketName = "authcore.session.latency.bucket"
	latencyCountName  = "authcore.session.latency.count"
	auditDroppedName  = "authcore.audit.dropped"
)

type boundMember struct {
	id    authcore.MetricID
	attrs metric.MeasurementOption
}

type observedFamily struct {
	instrument metric.Int64ObservableCounter
	members    []boundMember
}

// Exporter publishes engine metrics as observable OpenTelemetry instruments.
// Session latency is exported as a cumulative bucket gauge keyed by le plus a
// sample count gauge.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	families     []observedFamily
	bucket       metric.Int64ObservableGauge
	bucketAttrs  []metric.MeasurementOption
	count        metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers instruments on meter that read from engine.
func NewExporter(meter metric.Meter, engine *authcore.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource registers instruments on meter that read from source
// on every collection.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(families)+3)

	for _, f := range families {
		ins, err := meter.Int64ObservableCounter(f.name, metric.WithDescription(f.desc), metric.WithUnit(f.unit))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", f.name, err)
		}
		of := observedFamily{instrument: ins}
		for _, m := range f.members {
			var attrs attribute.Set
			if f.key != "" {
				attrs = attribute.NewSet(attribute.String(f.key, m.value))
			}
			of.members = append(of.members, boundMember{id: m.id, attrs: metric.WithAttributeSet(attrs)})
		}
		e.families = append(e.families, of)
		observables = append(observables, ins)
	}

	var err error
	e.bucket, err = meter.Int64ObservableGauge(latencyBucketName,
		metric.WithDescription("Session verifications at or under the le bound, in seconds."),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", latencyBucketName, err)
	}
	for _, le := range internaldefs.BucketLabels() {
		e.bucketAttrs = append(e.bucketAttrs, metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le))))
	}
	e.count, err = meter.Int64ObservableGauge(latencyCountName,
		metric.WithDescription("Session verifications timed."),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", latencyCountName, err)
	}
	e.auditDropped, err = meter.Int64ObservableCounter(auditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", auditDroppedName, err)
	}
	observables = append(observables, e.bucket, e.count, e.auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, f := range e.families {
		for _, m := range f.members {
			if v, ok := snap.Counters[m.id]; ok {
				o.ObserveInt64(f.instrument, int64(v), m.attrs)
			}
		}
	}

	if raw, ok := snap.Histograms[authcore.MetricSessionLatency]; ok {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, attrs := range e.bucketAttrs {
			o.ObserveInt64(e.bucket, int64(cumulative[i]), attrs)
		}
		o.ObserveInt64(e.count, int64(cumulative[len(cumulative)-1]))
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
