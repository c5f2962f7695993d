package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/middleware"
	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/services"
)

// bindJSON decodes the request body into dst, answering VALIDATION_ERROR on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respond.Validation(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// currentUser returns the authenticated user or aborts with 401.
func currentUser(c *gin.Context) (*models.User, bool) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		respond.Error(c, services.ErrAuthenticationRequired)
		return nil, false
	}
	return u, true
}

// headerToken reads a raw token header, tolerating a "Bearer " prefix.
func headerToken(c *gin.Context, name string) string {
	v := strings.TrimSpace(c.GetHeader(name))
	if scheme, token, found := strings.Cut(v, " "); found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return v
}
