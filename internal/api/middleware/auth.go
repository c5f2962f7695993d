package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/services"
)

// Gin context keys set by AuthMiddleware.
const (
	UserKey        = "user"
	UserIDKey      = "userID"
	UsernameKey    = "username"
	PermissionsKey = "permissions"
)

// Authenticator resolves an ACCESS token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.User, error)
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthMiddleware admits requests carrying a valid ACCESS token. Tokens of any other
// type are rejected with INVALID_TOKEN_TYPE. The caller identity is attached to the
// request context for services and to the gin context for handlers.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			respond.Unauthorized(c, "Authorization header required")
			return
		}

		u, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			p := respond.Classify(err)
			switch {
			case errors.Is(err, services.ErrInvalidTokenType):
			case p.Status == http.StatusInternalServerError:
				respond.Error(c, err)
				return
			default:
				// locked or disabled accounts look like any other rejected credential here
				p = respond.Problem{Status: http.StatusUnauthorized, Kind: respond.KindAuthenticationRequired, Message: services.ErrInvalidToken.Error()}
			}
			respond.Abort(c, p)
			return
		}

		c.Set(UserKey, u)
		c.Set(UserIDKey, u.ID)
		c.Set(UsernameKey, u.Username)
		c.Set(PermissionsKey, models.EffectivePermissions(u))
		ctx := services.ContextWithIdentity(c.Request.Context(), services.Identity{UserID: u.ID, Username: u.Username})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequirePermission admits callers whose effective permissions allow action on resource.
// It must run after AuthMiddleware.
func RequirePermission(action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(PermissionsKey)
		if !ok {
			respond.Unauthorized(c, services.ErrAuthenticationRequired.Error())
			return
		}
		set, _ := v.(models.PermissionSet)
		if !set.Allows(action, resource) {
			respond.Error(c, services.ErrAccessDenied)
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user set by AuthMiddleware.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok && u != nil
}
