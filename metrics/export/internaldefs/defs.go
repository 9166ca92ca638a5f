package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Successful logins."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Logins rejected for unknown identifier or wrong secret."},
	{ID: authgate.MetricLoginRateLimited, Name: "authgate_login_rate_limited_total", Help: "Logins denied by the login quota."},
	{ID: authgate.MetricLoginBlocked, Name: "authgate_login_blocked_total", Help: "Logins from blocklisted sources."},
	{ID: authgate.MetricTokenIssued, Name: "authgate_token_issued_total", Help: "Issued credential tokens."},
	{ID: authgate.MetricTokenVerified, Name: "authgate_token_verified_total", Help: "Credential tokens accepted."},
	{ID: authgate.MetricTokenRejected, Name: "authgate_token_rejected_total", Help: "Credential tokens rejected."},
	{ID: authgate.MetricLogout, Name: "authgate_logout_total", Help: "Logouts."},
	{ID: authgate.MetricPasswordChangeSuccess, Name: "authgate_password_change_success_total", Help: "Successful password changes."},
	{ID: authgate.MetricPasswordChangeFailure, Name: "authgate_password_change_failure_total", Help: "Rejected password changes."},
	{ID: authgate.MetricRegistration, Name: "authgate_registration_total", Help: "Created accounts."},
	{ID: authgate.MetricSourceBlocked, Name: "authgate_source_blocked_total", Help: "Requests from blocklisted sources."},
	{ID: authgate.MetricSourceVelocityExceeded, Name: "authgate_source_velocity_exceeded_total", Help: "Requests over the per-source ceiling."},
	{ID: authgate.MetricRateLimitHit, Name: "authgate_rate_limit_hit_total", Help: "Action quota denials."},
	{ID: authgate.MetricCSRFRejected, Name: "authgate_csrf_rejected_total", Help: "State-changing requests rejected for a bad CSRF token."},
}

// HistogramDefs lists every exported engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricVerifyLatency, Name: "authgate_verify_latency_seconds", Help: "Token verification latency."},
}

// BucketCount is the number of histogram buckets including +Inf.
const BucketCount = len(authgate.HistogramBounds) + 1

// HistogramBounds are authgate.HistogramBounds in seconds, as Prometheus
// le labels.
var HistogramBounds = [BucketCount]string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are instrument-name-safe forms of HistogramBounds.
var HistogramBoundSuffix = [BucketCount]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := range raw {
		running += raw[i]
		out[i] = running
	}
	return out
}
