package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/services"
	"github.com/itinera/backend/internal/util"
)

// RequestMeta records the client address and user agent on the request context for the
// audit trail. The address honours forwarding headers; rate limiting uses gin's
// ClientIP instead, which only trusts configured proxies.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		meta := services.RequestMeta{
			IPAddress: util.ClientIP(c.Request),
			UserAgent: util.SanitizeForLog(c.Request.UserAgent()),
			RequestID: logger.RequestIDFromContext(ctx),
		}
		c.Request = c.Request.WithContext(services.ContextWithRequestMeta(ctx, meta))
		c.Next()
	}
}
