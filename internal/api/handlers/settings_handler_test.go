package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/services"
)

func setupSettingsRouter(t *testing.T) (*gin.Engine, *services.SettingsStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	store := services.NewSettingsStore(db, models.ScopeAuditLogSetting, services.AuditLogSettingDefinitions(), services.SettingsOptions{})
	require.NoError(t, services.InitializeSettings(context.Background(), store))

	h := NewSettingsHandler(store, nil)
	r := gin.New()
	r.GET("/settings", h.List)
	r.GET("/settings/categories", h.Categories)
	r.POST("/settings", h.Create)
	r.POST("/settings/reset", h.ResetCategory)
	r.GET("/settings/keys/:key", h.Get)
	r.PUT("/settings/keys/:key", h.Update)
	r.DELETE("/settings/keys/:key", h.Delete)
	r.POST("/settings/keys/:key/deactivate", h.Deactivate)
	r.POST("/settings/keys/:key/reactivate", h.Reactivate)
	return r, store
}

func serve(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSettingsHandler_ListByCategory(t *testing.T) {
	r, _ := setupSettingsRouter(t)

	w, resp := serve(r, http.MethodGet, "/settings?category=redaction", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := resp["data"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, services.KeyAuditSensitivePatterns, rows[0].(map[string]any)["settingKey"])

	w, resp = serve(r, http.MethodGet, "/settings/categories", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []any{"capture", "redaction"}, resp["data"])
}

func TestSettingsHandler_UpdateValidatesType(t *testing.T) {
	r, store := setupSettingsRouter(t)
	path := "/settings/keys/" + services.KeyAuditMaxValueLength

	w, resp := serve(r, http.MethodPut, path, `{"settingValue":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp["errorKind"])

	w, _ = serve(r, http.MethodPut, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = serve(r, http.MethodPut, path, `{"settingValue":"256"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 256, store.GetInt(context.Background(), services.KeyAuditMaxValueLength))
}

func TestSettingsHandler_CustomSettingLifecycle(t *testing.T) {
	r, _ := setupSettingsRouter(t)

	w, _ := serve(r, http.MethodPost, "/settings", `{"settingKey":"audit.custom.flag","settingValue":"true","dataType":"BOOLEAN","category":"custom"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, resp := serve(r, http.MethodPost, "/settings", `{"settingKey":"audit.custom.flag","settingValue":"false","dataType":"BOOLEAN"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT_ERROR", resp["errorKind"])

	w, resp = serve(r, http.MethodPost, "/settings/keys/audit.custom.flag/deactivate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["data"].(map[string]any)["active"])

	w, _ = serve(r, http.MethodPost, "/settings/keys/audit.custom.flag/reactivate", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = serve(r, http.MethodDelete, "/settings/keys/audit.custom.flag", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = serve(r, http.MethodGet, "/settings/keys/audit.custom.flag", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", resp["errorKind"])
}

func TestSettingsHandler_ResetCategory(t *testing.T) {
	r, store := setupSettingsRouter(t)
	ctx := context.Background()
	_, err := store.Update(ctx, services.KeyAuditCaptureUserAgent, "false")
	require.NoError(t, err)
	_, err = store.Update(ctx, services.KeyAuditSensitivePatterns, "pin")
	require.NoError(t, err)

	w, _ := serve(r, http.MethodPost, "/settings/reset?category=capture", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.True(t, store.GetBool(ctx, services.KeyAuditCaptureUserAgent))
	assert.Equal(t, "pin", store.GetString(ctx, services.KeyAuditSensitivePatterns))
}
