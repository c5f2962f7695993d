package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serveWithHeaders(cfg SecurityHeadersConfig, path string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(SecurityHeaders(cfg))
	router.GET("/*any", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name          string
		isDevelopment bool
		checkHeaders  func(t *testing.T, resp *httptest.ResponseRecorder)
	}{
		{
			name: "production mode sets HSTS",
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				hsts := resp.Header().Get("Strict-Transport-Security")
				assert.Contains(t, hsts, "max-age=31536000")
				assert.Contains(t, hsts, "includeSubDomains")
			},
		},
		{
			name:          "development mode skips HSTS",
			isDevelopment: true,
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				assert.Empty(t, resp.Header().Get("Strict-Transport-Security"))
			},
		},
		{
			name: "denies framing",
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				assert.Equal(t, "DENY", resp.Header().Get("X-Frame-Options"))
				assert.Contains(t, resp.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
			},
		},
		{
			name: "sets X-Content-Type-Options",
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				assert.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
			},
		},
		{
			name: "sets Referrer-Policy",
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				assert.Equal(t, "no-referrer", resp.Header().Get("Referrer-Policy"))
			},
		},
		{
			name: "sets Permissions-Policy",
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				pp := resp.Header().Get("Permissions-Policy")
				assert.Contains(t, pp, "camera=()")
				assert.Contains(t, pp, "microphone=()")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := serveWithHeaders(SecurityHeadersConfig{IsDevelopment: tt.isDevelopment}, "/test")
			assert.Equal(t, http.StatusOK, resp.Code)
			tt.checkHeaders(t, resp)
		})
	}
}

func TestSecurityHeaders_NoStoreOnCredentialRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultSecurityHeadersConfig()

	resp := serveWithHeaders(cfg, "/api/auth/login")
	assert.Equal(t, "no-store", resp.Header().Get("Cache-Control"))

	resp = serveWithHeaders(cfg, "/api/health")
	assert.Empty(t, resp.Header().Get("Cache-Control"))
}

func TestBuildCSP(t *testing.T) {
	csp := buildCSP(SecurityHeadersConfig{})
	assert.Equal(t, "base-uri 'none'; default-src 'none'; form-action 'none'; frame-ancestors 'none'", csp)

	csp = buildCSP(SecurityHeadersConfig{CustomCSPDirectives: map[string]string{"default-src": "'self'"}})
	assert.Contains(t, csp, "default-src 'self'")
}
