package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/itinera/backend/internal/api/respond"
)

// Recovery logs panic information and answers with the generic 500 envelope. When
// verbose is true it logs stacktraces and sanitized request metadata.
func Recovery(verbose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				entry := GetRequestLogger(c)
				if verbose {
					entry.WithFields(logrus.Fields{
						"method":  c.Request.Method,
						"path":    SanitizePath(c.Request.URL.Path),
						"headers": SanitizeHeaders(c.Request.Header),
					}).Errorf("PANIC: %v\nStacktrace:\n%s", r, debug.Stack())
				} else {
					entry.Errorf("PANIC: %v", r)
				}
				respond.Abort(c, respond.Problem{
					Status:  http.StatusInternalServerError,
					Kind:    respond.KindInternal,
					Message: "an unexpected error occurred",
				})
			}
		}()
		c.Next()
	}
}
