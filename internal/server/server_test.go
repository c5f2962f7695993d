package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/itinera/backend/internal/config"
	"github.com/itinera/backend/internal/database"
	"github.com/itinera/backend/internal/services"
)

func testConfig() config.Config {
	return config.Config{Environment: "test", HTTPPort: "0", JWTSecret: "test-secret", JWTIssuer: "itinera-test", IDSalt: "salt"}
}

func TestNewRouter_NotFoundEnvelope(t *testing.T) {
	router, err := NewRouter(testConfig())
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)

	req, _ := http.NewRequest("GET", "/api/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"errorKind":"NOT_FOUND"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestNewRouter_RejectsInvalidTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"not-an-ip"}
	_, err := NewRouter(cfg)
	assert.Error(t, err)
}

func TestNew_ServesHealth(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	reg := services.NewRegistry(db, services.RegistryOptions{JWTSecret: "test-secret", JWTIssuer: "itinera-test"})

	srv, err := New(reg, testConfig())
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)

	req, _ := http.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req, _ = http.NewRequest("DELETE", "/api/auth/login", nil)
	w = httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
