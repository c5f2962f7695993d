// Package respond writes the JSON envelopes shared by handlers and middleware and maps
// service errors onto the public error taxonomy.
package respond

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/itinera/backend/internal/ids"
	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/services"
)

// Error kinds returned in the errorKind field.
const (
	KindValidation             = "VALIDATION_ERROR"
	KindAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	KindInvalidTokenType       = "INVALID_TOKEN_TYPE"
	KindInvalidMFAToken        = "INVALID_MFA_TOKEN"
	KindInvalidMFACode         = "INVALID_MFA_CODE"
	KindLogin                  = "LOGIN_ERROR"
	KindAccessDenied           = "ACCESS_DENIED"
	KindNotFound               = "NOT_FOUND"
	KindPasswordPolicy         = "PASSWORD_POLICY_VIOLATION"
	KindPolicy                 = "POLICY_VIOLATION"
	KindConflict               = "CONFLICT_ERROR"
	KindInternal               = "INTERNAL_SERVER_ERROR"
)

const internalMessage = "an unexpected error occurred"

// Problem is a classified error ready to be written.
type Problem struct {
	Status  int
	Kind    string
	Message string
}

var taxonomy = []struct {
	target error
	status int
	kind   string
}{
	{services.ErrInvalidTokenType, http.StatusUnauthorized, KindInvalidTokenType},
	{services.ErrInvalidMFAToken, http.StatusUnauthorized, KindInvalidMFAToken},
	{services.ErrInvalidMFACode, http.StatusUnauthorized, KindInvalidMFACode},
	{services.ErrInvalidToken, http.StatusUnauthorized, KindAuthenticationRequired},
	{services.ErrAuthenticationRequired, http.StatusUnauthorized, KindAuthenticationRequired},

	{services.ErrInvalidCredentials, http.StatusBadRequest, KindLogin},
	{services.ErrAccountLocked, http.StatusBadRequest, KindLogin},
	{services.ErrAccountDisabled, http.StatusBadRequest, KindLogin},
	{services.ErrRateLimited, http.StatusBadRequest, KindLogin},

	{services.ErrPasswordPolicy, http.StatusBadRequest, KindPasswordPolicy},
	{services.ErrValidation, http.StatusBadRequest, KindValidation},
	{services.ErrSettingTypeMismatch, http.StatusBadRequest, KindValidation},
	{services.ErrUnknownActionType, http.StatusBadRequest, KindValidation},
	{services.ErrActivationTokenUsed, http.StatusBadRequest, KindValidation},

	{services.ErrSystemDefaultProtected, http.StatusBadRequest, KindPolicy},
	{services.ErrSystemRoleProtected, http.StatusBadRequest, KindPolicy},
	{services.ErrMFAState, http.StatusBadRequest, KindPolicy},
	{services.ErrMFADisabled, http.StatusBadRequest, KindPolicy},

	{services.ErrAccessDenied, http.StatusForbidden, KindAccessDenied},

	{services.ErrUserNotFound, http.StatusNotFound, KindNotFound},
	{services.ErrSettingNotFound, http.StatusNotFound, KindNotFound},
	{services.ErrRoleNotFound, http.StatusNotFound, KindNotFound},
	{services.ErrPermissionNotFound, http.StatusNotFound, KindNotFound},
	{services.ErrAuditLogNotFound, http.StatusNotFound, KindNotFound},
	{ids.ErrInvalidID, http.StatusNotFound, KindNotFound},

	{services.ErrConflict, http.StatusConflict, KindConflict},
}

// Classify maps err onto the taxonomy. Unknown errors become a generic 500 whose
// message reveals nothing about the cause.
func Classify(err error) Problem {
	for _, t := range taxonomy {
		if errors.Is(err, t.target) {
			return Problem{Status: t.status, Kind: t.kind, Message: err.Error()}
		}
	}
	return Problem{Status: http.StatusInternalServerError, Kind: KindInternal, Message: internalMessage}
}

// Error classifies err and aborts the request with the error envelope. Unexpected
// errors are logged with the request context before being reduced to a 500.
func Error(c *gin.Context, err error) {
	p := Classify(err)
	if p.Status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("unhandled error")
	}
	Abort(c, p)
}

// Abort writes p as the error envelope.
func Abort(c *gin.Context, p Problem) {
	c.AbortWithStatusJSON(p.Status, gin.H{
		"code":      p.Status,
		"message":   p.Message,
		"errorKind": p.Kind,
	})
}

// Validation aborts with a 400 VALIDATION_ERROR, used for request binding failures.
func Validation(c *gin.Context, message string) {
	Abort(c, Problem{Status: http.StatusBadRequest, Kind: KindValidation, Message: message})
}

// Unauthorized aborts with a 401 AUTHENTICATION_REQUIRED.
func Unauthorized(c *gin.Context, message string) {
	Abort(c, Problem{Status: http.StatusUnauthorized, Kind: KindAuthenticationRequired, Message: message})
}

// OK writes the success envelope.
func OK(c *gin.Context, status int, message string, data any) {
	body := gin.H{"code": status, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}
