package internaldefs

import (
	"strconv"

	"github.com/indigoroots/authcore"
)

// CounterDef names one in-process counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one in-process latency histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for audit events lost to backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// AuditDroppedHelp describes [AuditDroppedName].
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful sign-ins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Rejected sign-ins."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Rate-limited sign-in attempts."},
	{ID: authcore.MetricOAuthUserCreated, Name: "authcore_oauth_user_created_total", Help: "Accounts created by first OAuth sign-in."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Issued session tokens."},
	{ID: authcore.MetricSessionValidated, Name: "authcore_session_validated_total", Help: "Session tokens that verified."},
	{ID: authcore.MetricSessionInvalid, Name: "authcore_session_invalid_total", Help: "Session tokens that failed verification."},
	{ID: authcore.MetricSessionExpired, Name: "authcore_session_expired_total", Help: "Session tokens presented after expiry."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: authcore.MetricRegistration, Name: "authcore_registration_total", Help: "Accounts created by registration."},
	{ID: authcore.MetricRegistrationRateLimited, Name: "authcore_registration_rate_limited_total", Help: "Rate-limited registration attempts."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetConfirmSuccess, Name: "authcore_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetConfirmFailure, Name: "authcore_password_reset_confirm_failure_total", Help: "Rejected password reset confirmations."},
	{ID: authcore.MetricPasswordResetReplay, Name: "authcore_password_reset_replay_total", Help: "Reset confirmations that lost the consume race."},
	{ID: authcore.MetricEmailVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Verification emails issued."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Completed email verifications."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Rejected email verifications."},
	{ID: authcore.MetricEmailDeliveryFailure, Name: "authcore_email_delivery_failure_total", Help: "Mail sends that failed and were swallowed."},
	{ID: authcore.MetricTokensCleaned, Name: "authcore_tokens_cleaned_total", Help: "Expired token rows removed by cleanup."},
}

// HistogramDefs lists every latency histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricSessionLatency, Name: "authcore_session_latency_seconds", Help: "Session verification latency."},
}

// HistogramUpperBounds holds the finite bucket bounds in seconds. The last
// in-process bucket is the +Inf overflow.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketLabels returns the le label of every bucket, +Inf included.
func BucketLabels() []string {
	out := make([]string, 0, len(HistogramUpperBounds)+1)
	for _, b := range HistogramUpperBounds {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
