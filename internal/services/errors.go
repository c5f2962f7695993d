package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("resource already exists")
	ErrSettingNotFound     = errors.New("setting not found")
	ErrSettingTypeMismatch = errors.New("value does not match setting data type")
	// ErrSystemDefaultProtected guards seeded settings against deactivate and delete.
	ErrSystemDefaultProtected = errors.New("system default setting cannot be deactivated or deleted")

	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrRateLimited        = errors.New("too many login attempts, try again later")

	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidToken           = errors.New("invalid or expired token")
	ErrInvalidTokenType       = errors.New("token type not accepted here")
	ErrInvalidMFAToken        = errors.New("invalid or expired mfa token")
	ErrInvalidMFACode         = errors.New("invalid mfa code")
	ErrMFAState               = errors.New("operation not allowed in current mfa state")
	ErrMFADisabled            = errors.New("mfa is disabled")

	ErrPasswordPolicy = errors.New("password does not satisfy policy")

	ErrAccessDenied          = errors.New("access denied")
	ErrRoleNotFound          = errors.New("role not found")
	ErrPermissionNotFound    = errors.New("permission not found")
	ErrUnknownActionType     = errors.New("unknown or inactive action type")
	ErrSystemRoleProtected   = errors.New("system role cannot be deleted")
	ErrAuditLogNotFound      = errors.New("audit log not found")
	ErrActivationTokenUsed   = errors.New("registration token already used")
	ErrNotificationsDisabled = errors.New("notifications are not configured")
)

// isUniqueViolation matches duplicate key errors from both sqlite and postgres,
// with or without gorm error translation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
