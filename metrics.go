package authcore

import (
	internalmetrics "github.com/indigoroots/authcore/internal/metrics"
)

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess                = internalmetrics.MetricLoginSuccess
	MetricLoginFailure                = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited            = internalmetrics.MetricLoginRateLimited
	MetricOAuthUserCreated            = internalmetrics.MetricOAuthUserCreated
	MetricSessionCreated              = internalmetrics.MetricSessionCreated
	MetricSessionValidated            = internalmetrics.MetricSessionValidated
	MetricSessionInvalid              = internalmetrics.MetricSessionInvalid
	MetricSessionExpired              = internalmetrics.MetricSessionExpired
	MetricRateLimitHit                = internalmetrics.MetricRateLimitHit
	MetricRegistration                = internalmetrics.MetricRegistration
	MetricRegistrationRateLimited     = internalmetrics.MetricRegistrationRateLimited
	MetricPasswordResetRequest        = internalmetrics.MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess = internalmetrics.MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure = internalmetrics.MetricPasswordResetConfirmFailure
	// MetricPasswordResetReplay counts resets that lost the consume race.
	MetricPasswordResetReplay      = internalmetrics.MetricPasswordResetReplay
	MetricEmailVerificationRequest = internalmetrics.MetricEmailVerificationRequest
	MetricEmailVerificationSuccess = internalmetrics.MetricEmailVerificationSuccess
	MetricEmailVerificationFailure = internalmetrics.MetricEmailVerificationFailure
	// MetricEmailDeliveryFailure counts swallowed mail send failures.
	MetricEmailDeliveryFailure = internalmetrics.MetricEmailDeliveryFailure
	// MetricTokensCleaned counts rows removed by CleanupExpiredTokens.
	MetricTokensCleaned = internalmetrics.MetricTokensCleaned
	// MetricSessionLatency is the histogram of Session verification time.
	MetricSessionLatency = internalmetrics.MetricSessionLatency
)

// Metrics holds atomic counters and the optional latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] configured by cfg. When Enabled is false,
// all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// flowMetricInc adapts metricInc to the int ids carried by flow deps.
func (e *Engine) flowMetricInc(id int) {
	e.metricInc(MetricID(id))
}
