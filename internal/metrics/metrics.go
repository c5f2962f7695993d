package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	loginAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "itinera_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})
	accountLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "itinera_account_lockouts_total",
		Help: "Total number of accounts locked after repeated failures",
	})
	rateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "itinera_login_rate_limited_total",
		Help: "Total number of login attempts rejected by the token bucket",
	})
	mfaVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "itinera_mfa_verifications_total",
		Help: "MFA code verifications by method and outcome",
	}, []string{"method", "outcome"})
	auditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "itinera_audit_write_failures_total",
		Help: "Audit records that could not be persisted",
	})
	settingsFallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "itinera_settings_fallbacks_total",
		Help: "Settings reads served from compiled defaults",
	}, []string{"scope", "reason"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		loginAttemptsTotal,
		accountLockoutsTotal,
		rateLimitedTotal,
		mfaVerificationsTotal,
		auditWriteFailuresTotal,
		settingsFallbacksTotal,
	)
}

// IncLogin counts a login attempt with the given outcome (success, mfa_required, invalid_credentials, locked, ...).
func IncLogin(outcome string) { loginAttemptsTotal.WithLabelValues(outcome).Inc() }

// IncLockout increments the lockout counter.
func IncLockout() { accountLockoutsTotal.Inc() }

// IncRateLimited increments the rate-limited counter.
func IncRateLimited() { rateLimitedTotal.Inc() }

// IncMFAVerification counts an MFA check; method is totp or backup_code.
func IncMFAVerification(method string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	mfaVerificationsTotal.WithLabelValues(method, outcome).Inc()
}

// IncAuditWriteFailure increments the audit persistence failure counter.
func IncAuditWriteFailure() { auditWriteFailuresTotal.Inc() }

// IncSettingsFallback counts a settings read that fell back to a compiled default.
func IncSettingsFallback(scope, reason string) {
	settingsFallbacksTotal.WithLabelValues(scope, reason).Inc()
}
