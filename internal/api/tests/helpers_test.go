package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/itinera/backend/internal/api/routes"
	"github.com/itinera/backend/internal/database"
	"github.com/itinera/backend/internal/ids"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/services"
)

const (
	adminUsername = "operator"
	adminPassword = "S3cure!Passw0rd"
	userUsername  = "traveller"
	userPassword  = "Tr4vel!Passw0rd"
)

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	ErrorKind string          `json:"errorKind"`
	Data      json.RawMessage `json:"data"`
}

type testAPI struct {
	t      *testing.T
	router *gin.Engine
	reg    *services.Registry
	obf    ids.Obfuscator
}

// newTestAPI wires the full route set over a fresh in-memory database with the
// default roles, one administrator and one plain user.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	ctx := context.Background()
	reg := services.NewRegistry(db, services.RegistryOptions{
		JWTSecret: "integration-secret",
		JWTIssuer: "itinera-test",
		Hasher:    services.BcryptHasher{Cost: bcrypt.MinCost},
	})
	require.NoError(t, reg.Initialize(ctx))
	require.NoError(t, services.SeedRBAC(ctx, reg.RBAC))

	created, err := services.SeedAdmin(ctx, reg.Auth, reg.RBAC, services.RegisterInput{
		Username: adminUsername, Email: "operator@example.com", Password: adminPassword,
	})
	require.NoError(t, err)
	require.True(t, created)

	u, err := reg.Auth.CreateUser(ctx, services.RegisterInput{
		Username: userUsername, Email: "traveller@example.com", Password: userPassword,
	})
	require.NoError(t, err)
	require.NoError(t, reg.RBAC.AssignRoleByName(ctx, u.ID, services.RoleUser))

	obf := ids.NewObfuscator("integration")
	router := gin.New()
	routes.Register(router, reg, obf)
	return &testAPI{t: t, router: router, reg: reg, obf: obf}
}

func (a *testAPI) do(method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (a *testAPI) login(identifier, password string) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	return a.do(http.MethodPost, "/api/auth/login", "", gin.H{"identifier": identifier, "password": password})
}

// tokens logs in and returns the access and refresh tokens.
func (a *testAPI) tokens(identifier, password string) (string, string) {
	a.t.Helper()
	w, env := a.login(identifier, password)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	var res services.LoginResult
	require.NoError(a.t, json.Unmarshal(env.Data, &res))
	require.NotEmpty(a.t, res.AccessToken)
	return res.AccessToken, res.RefreshToken
}

func (a *testAPI) user(username string) *models.User {
	a.t.Helper()
	u, err := a.reg.Auth.FindByIdentifier(context.Background(), username)
	require.NoError(a.t, err)
	return u
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}
