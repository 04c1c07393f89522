package internaldefs

import (
	"strconv"

	"github.com/labcore/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const AuditDroppedName = "authcore_audit_dropped_total"

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Rejected logins, including lockouts and store failures."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Failed logins that engaged an account lock."},
	{ID: authcore.MetricAccountUnlocked, Name: "authcore_account_unlocked_total", Help: "Manual account unlocks."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token refreshes."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected token refreshes."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions opened by login."},
	{ID: authcore.MetricSessionTerminated, Name: "authcore_session_terminated_total", Help: "Sessions ended by logout or revocation."},
	{ID: authcore.MetricSessionsReaped, Name: "authcore_sessions_reaped_total", Help: "Expired sessions deactivated by the reaper."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logouts from every session."},
	{ID: authcore.MetricRevokeAll, Name: "authcore_revoke_all_total", Help: "Administrative revocations of an identity."},
	{ID: authcore.MetricValidateFailure, Name: "authcore_validate_failure_total", Help: "Rejected access tokens."},
	{ID: authcore.MetricRevocationCheckFailed, Name: "authcore_revocation_check_failed_total", Help: "Tokens rejected because revocation state was unreachable."},
	{ID: authcore.MetricPermissionDenied, Name: "authcore_permission_denied_total", Help: "Authorization failures."},
	{ID: authcore.MetricRateLimitAllowed, Name: "authcore_rate_limit_allowed_total", Help: "Requests admitted by the rate limiter."},
	{ID: authcore.MetricRateLimitRejected, Name: "authcore_rate_limit_rejected_total", Help: "Requests rejected by the rate limiter."},
	{ID: authcore.MetricRateLimitDegraded, Name: "authcore_rate_limit_degraded_total", Help: "Requests admitted unchecked while the counter store was unreachable."},
	{ID: authcore.MetricRoleSaved, Name: "authcore_role_saved_total", Help: "Roles created or replaced."},
	{ID: authcore.MetricRoleRejected, Name: "authcore_role_rejected_total", Help: "Role writes refused by hierarchy validation."},
	{ID: authcore.MetricRoleDeleted, Name: "authcore_role_deleted_total", Help: "Roles deleted."},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Operations failed by an unreachable store."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Login latency."},
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
}

// BucketCount includes the +Inf bucket.
const BucketCount = len(authcore.HistogramBounds) + 1

// BoundLabels renders each upper bound the way Prometheus writes its le
// label, for example "0.005" and "+Inf".
func BoundLabels() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range authcore.HistogramBounds {
		out = append(out, strconv.FormatFloat(b, 'f', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last
// entry is the sample count.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
