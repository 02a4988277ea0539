package internaldefs

import (
	"github.com/autorent-leon/consoleauth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   consoleauth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   consoleauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "consoleauth_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

var CounterDefs = []CounterDef{
	{ID: consoleauth.MetricLoginSuccess, Name: "consoleauth_login_success_total", Help: "Successful logins."},
	{ID: consoleauth.MetricLoginFailure, Name: "consoleauth_login_failure_total", Help: "Failed logins."},
	{ID: consoleauth.MetricRegisterSuccess, Name: "consoleauth_register_success_total", Help: "Accounts registered."},
	{ID: consoleauth.MetricRegisterFailure, Name: "consoleauth_register_failure_total", Help: "Rejected registrations."},
	{ID: consoleauth.MetricSessionInitiated, Name: "consoleauth_session_initiated_total", Help: "Sessions started from a login response."},
	{ID: consoleauth.MetricSessionCleared, Name: "consoleauth_session_cleared_total", Help: "Times token and permissions were cleared together."},
	{ID: consoleauth.MetricSessionExpired, Name: "consoleauth_session_expired_total", Help: "Stored tokens found expired or undecodable."},
	{ID: consoleauth.MetricLogout, Name: "consoleauth_logout_total", Help: "Confirmed logouts."},
	{ID: consoleauth.MetricLogoutDeclined, Name: "consoleauth_logout_declined_total", Help: "Logouts the user declined to confirm."},
	{ID: consoleauth.MetricPermissionCacheHit, Name: "consoleauth_permission_cache_hit_total", Help: "Permission lookups served from cache."},
	{ID: consoleauth.MetricPermissionFetch, Name: "consoleauth_permission_fetch_total", Help: "Permission requests sent to the backend."},
	{ID: consoleauth.MetricPermissionFetchShared, Name: "consoleauth_permission_fetch_shared_total", Help: "Callers that joined an in-flight permission request."},
	{ID: consoleauth.MetricPermissionFetchFailure, Name: "consoleauth_permission_fetch_failure_total", Help: "Failed permission requests."},
	{ID: consoleauth.MetricPermissionAuthRejected, Name: "consoleauth_permission_auth_rejected_total", Help: "Permission requests rejected with 401/403."},
	{ID: consoleauth.MetricPermissionStaleDiscarded, Name: "consoleauth_permission_stale_discarded_total", Help: "Permission results discarded because the session changed."},
	{ID: consoleauth.MetricGuardAllow, Name: "consoleauth_guard_allow_total", Help: "Navigations allowed."},
	{ID: consoleauth.MetricGuardRedirectLogin, Name: "consoleauth_guard_redirect_login_total", Help: "Navigations redirected to login."},
	{ID: consoleauth.MetricGuardRedirectDashboard, Name: "consoleauth_guard_redirect_dashboard_total", Help: "Navigations redirected to the dashboard."},
	{ID: consoleauth.MetricGuardRedirectUnauthorized, Name: "consoleauth_guard_redirect_unauthorized_total", Help: "Navigations redirected to unauthorized."},
	{ID: consoleauth.MetricStorageError, Name: "consoleauth_storage_error_total", Help: "Token storage failures."},
}

var HistogramDefs = []HistogramDef{
	{ID: consoleauth.MetricPermissionFetchLatency, Name: "consoleauth_permission_fetch_seconds", Help: "Permission request latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds; the last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, including +Inf, for exporters
// that flatten histograms into gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
