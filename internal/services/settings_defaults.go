package services

import (
	"github.com/itinera/backend/internal/models"
)

// Security setting keys.
const (
	KeyLockoutEnabled           = "security.lockout.enabled"
	KeyLockoutMaxFailedAttempts = "security.lockout.maxFailedAttempts"
	KeyLockoutDurationMinutes   = "security.lockout.durationMinutes"
	KeyLockoutCounterResetHours = "security.lockout.counterResetHours"

	KeyRateLimitEnabled         = "security.ratelimit.enabled"
	KeyRateLimitCapacity        = "security.ratelimit.capacity"
	KeyRateLimitRefillTokens    = "security.ratelimit.refillTokens"
	KeyRateLimitRefillIntervalS = "security.ratelimit.refillIntervalSeconds"

	KeyAccessTokenExpirationMs       = "security.jwt.accessTokenExpirationMs"
	KeyRefreshTokenExpirationMs      = "security.jwt.refreshTokenExpirationMs"
	KeyMFATempTokenExpirationMs      = "security.jwt.mfaTempTokenExpirationMs"
	KeyRegistrationTokenExpirationMs = "security.jwt.registrationTokenExpirationMs"

	KeyPasswordMinLength         = "security.password.minLength"
	KeyPasswordMaxLength         = "security.password.maxLength"
	KeyPasswordRequireUppercase  = "security.password.requireUppercase"
	KeyPasswordRequireLowercase  = "security.password.requireLowercase"
	KeyPasswordRequireDigit      = "security.password.requireDigit"
	KeyPasswordRequireSpecial    = "security.password.requireSpecial"
	KeyPasswordSpecialCharacters = "security.password.specialCharacters"
	KeyPasswordDisallowUsername  = "security.password.disallowUsername"
	KeyPasswordExpiryDays        = "security.password.expiryDays"

	KeyMFAEnabled                = "security.mfa.enabled"
	KeyMFAIssuer                 = "security.mfa.issuer"
	KeyMFABackupCodeCount        = "security.mfa.backupCodeCount"
	KeyMFABackupCodeLength       = "security.mfa.backupCodeLength"
	KeyMFATOTPDigits             = "security.mfa.totpDigits"
	KeyMFATOTPPeriodSeconds      = "security.mfa.totpPeriodSeconds"
	KeyMFATOTPSkew               = "security.mfa.totpSkew"
	KeyMFASetupExpirationMinutes = "security.mfa.setupExpirationMinutes"
)

// Audit-log capture keys.
const (
	KeyAuditCaptureOldValues  = "audit.capture.oldValues"
	KeyAuditCaptureNewValues  = "audit.capture.newValues"
	KeyAuditCaptureIPAddress  = "audit.capture.ipAddress"
	KeyAuditCaptureUserAgent  = "audit.capture.userAgent"
	KeyAuditMaxValueLength    = "audit.capture.maxValueLength"
	KeyAuditSensitivePatterns = "audit.capture.sensitivePatterns"
)

// Audit config keys. Per-entity toggles are built with AuditEntityKey.
const (
	KeyAuditLogEnabled         = "audit.log.enabled"
	KeyAuditLogFailuresEnabled = "audit.log.failures.enabled"
)

// Entity types recorded by the audit trail.
const (
	EntityUser       = "User"
	EntityRole       = "Role"
	EntityPermission = "Permission"
	EntityActionType = "ActionType"
	EntitySetting    = "Setting"
	EntityMFA        = "MFA"
)

// AuditEntityKey is the audit config toggle for one entity type.
func AuditEntityKey(entityType string) string {
	return "audit.entity." + entityType + ".enabled"
}

func def(key, value string, dt models.DataType, category, description string) Definition {
	return Definition{Key: key, Default: value, DataType: dt, Category: category, Description: description}
}

// SecurityDefinitions are the compiled defaults of the security scope.
func SecurityDefinitions() []Definition {
	const (
		b = models.DataTypeBoolean
		i = models.DataTypeInteger
		l = models.DataTypeLong
		s = models.DataTypeString
	)
	return []Definition{
		def(KeyLockoutEnabled, "true", b, "lockout", "Lock accounts after repeated failed logins"),
		def(KeyLockoutMaxFailedAttempts, "5", i, "lockout", "Failed attempts before the account locks"),
		def(KeyLockoutDurationMinutes, "30", i, "lockout", "Minutes an account stays locked"),
		def(KeyLockoutCounterResetHours, "24", i, "lockout", "Hours after the last failure when the counter is forgiven"),

		def(KeyRateLimitEnabled, "true", b, "ratelimit", "Throttle login attempts per source"),
		def(KeyRateLimitCapacity, "10", i, "ratelimit", "Bucket capacity"),
		def(KeyRateLimitRefillTokens, "10", i, "ratelimit", "Tokens added per refill interval"),
		def(KeyRateLimitRefillIntervalS, "60", i, "ratelimit", "Refill interval in seconds"),

		def(KeyAccessTokenExpirationMs, "3600000", l, "jwt", "Access token lifetime in milliseconds"),
		def(KeyRefreshTokenExpirationMs, "604800000", l, "jwt", "Refresh token lifetime in milliseconds"),
		def(KeyMFATempTokenExpirationMs, "300000", l, "jwt", "MFA temp token lifetime in milliseconds"),
		def(KeyRegistrationTokenExpirationMs, "86400000", l, "jwt", "Registration token lifetime in milliseconds"),

		def(KeyPasswordMinLength, "8", i, "password", "Minimum password length"),
		def(KeyPasswordMaxLength, "128", i, "password", "Maximum password length"),
		def(KeyPasswordRequireUppercase, "true", b, "password", "Require an uppercase letter"),
		def(KeyPasswordRequireLowercase, "true", b, "password", "Require a lowercase letter"),
		def(KeyPasswordRequireDigit, "true", b, "password", "Require a digit"),
		def(KeyPasswordRequireSpecial, "true", b, "password", "Require a special character"),
		def(KeyPasswordSpecialCharacters, "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~", s, "password", "Characters counted as special"),
		def(KeyPasswordDisallowUsername, "true", b, "password", "Reject passwords containing the username"),
		def(KeyPasswordExpiryDays, "90", i, "password", "Days until a password expires, 0 disables expiry"),

		def(KeyMFAEnabled, "true", b, "mfa", "Allow users to enroll in MFA"),
		def(KeyMFAIssuer, "Itinera", s, "mfa", "Issuer shown in authenticator apps"),
		def(KeyMFABackupCodeCount, "10", i, "mfa", "Backup codes issued per enrollment"),
		def(KeyMFABackupCodeLength, "10", i, "mfa", "Characters per backup code"),
		def(KeyMFATOTPDigits, "6", i, "mfa", "TOTP code digits"),
		def(KeyMFATOTPPeriodSeconds, "30", i, "mfa", "TOTP step in seconds"),
		def(KeyMFATOTPSkew, "1", i, "mfa", "Accepted TOTP steps before and after now"),
		def(KeyMFASetupExpirationMinutes, "10", i, "mfa", "Minutes a pending MFA setup stays valid"),
	}
}

// AuditLogSettingDefinitions control what the audit trail captures.
func AuditLogSettingDefinitions() []Definition {
	return []Definition{
		def(KeyAuditCaptureOldValues, "true", models.DataTypeBoolean, "capture", "Record the argument snapshot"),
		def(KeyAuditCaptureNewValues, "true", models.DataTypeBoolean, "capture", "Record the result snapshot"),
		def(KeyAuditCaptureIPAddress, "true", models.DataTypeBoolean, "capture", "Record the client address"),
		def(KeyAuditCaptureUserAgent, "true", models.DataTypeBoolean, "capture", "Record the user agent"),
		def(KeyAuditMaxValueLength, "4000", models.DataTypeInteger, "capture", "Maximum stored snapshot length"),
		def(KeyAuditSensitivePatterns, "password,token,secret,apikey,creditcard", models.DataTypeString, "redaction",
			"Comma separated key fragments whose values are never stored"),
	}
}

// AuditConfigDefinitions toggle audit recording globally and per entity.
func AuditConfigDefinitions() []Definition {
	defs := []Definition{
		def(KeyAuditLogEnabled, "true", models.DataTypeBoolean, "general", "Record audit events"),
		def(KeyAuditLogFailuresEnabled, "true", models.DataTypeBoolean, "general", "Record failed operations"),
	}
	for _, e := range []string{EntityUser, EntityRole, EntityPermission, EntityActionType, EntitySetting, EntityMFA} {
		defs = append(defs, def(AuditEntityKey(e), "true", models.DataTypeBoolean, "entity", "Record "+e+" operations"))
	}
	return defs
}
