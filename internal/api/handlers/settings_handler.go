package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/services"
)

// SettingsHandler exposes one settings scope. The same handler serves security
// settings, audit-log settings and audit config.
type SettingsHandler struct {
	store *services.SettingsStore
	audit *services.AuditService
}

func NewSettingsHandler(store *services.SettingsStore, audit *services.AuditService) *SettingsHandler {
	return &SettingsHandler{store: store, audit: audit}
}

type UpdateSettingRequest struct {
	Value *string `json:"settingValue" binding:"required"`
}

type CreateSettingRequest struct {
	Key         string          `json:"settingKey" binding:"required"`
	Value       string          `json:"settingValue"`
	DataType    models.DataType `json:"dataType"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

func (h *SettingsHandler) descriptor(action, key, description string, args any) services.AuditDescriptor {
	return services.AuditDescriptor{
		Action:      action,
		EntityType:  services.EntitySetting,
		EntityID:    h.store.Scope() + ":" + key,
		Description: description,
		Args:        args,
	}
}

// List returns every row of the scope, optionally filtered by ?category=.
func (h *SettingsHandler) List(c *gin.Context) {
	rows, err := h.store.List(c.Request.Context(), c.Query("category"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", rows)
}

func (h *SettingsHandler) Categories(c *gin.Context) {
	cats, err := h.store.Categories(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", cats)
}

func (h *SettingsHandler) Get(c *gin.Context) {
	row, err := h.store.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", row)
}

func (h *SettingsHandler) Create(c *gin.Context) {
	var req CreateSettingRequest
	if !bindJSON(c, &req) {
		return
	}
	row, err := services.Audited(c.Request.Context(), h.audit,
		h.descriptor(services.AuditActionCreate, req.Key, "setting created", req),
		func(ctx context.Context) (*models.Setting, error) {
			return h.store.Create(ctx, services.Definition{
				Key:         req.Key,
				Default:     req.Value,
				DataType:    req.DataType,
				Category:    req.Category,
				Description: req.Description,
			})
		})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, "Setting created", row)
}

func (h *SettingsHandler) Update(c *gin.Context) {
	key := c.Param("key")
	var req UpdateSettingRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	before, err := h.store.Get(ctx, key)
	if err != nil {
		respond.Error(c, err)
		return
	}
	row, err := services.Audited(ctx, h.audit,
		h.descriptor(services.AuditActionUpdate, key, "setting updated", gin.H{
			"settingKey":    key,
			"previousValue": before.SettingValue,
			"settingValue":  *req.Value,
		}),
		func(ctx context.Context) (*models.Setting, error) {
			return h.store.Update(ctx, key, *req.Value)
		})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Setting updated", row)
}

func (h *SettingsHandler) Delete(c *gin.Context) {
	key := c.Param("key")
	err := services.AuditedExec(c.Request.Context(), h.audit,
		h.descriptor(services.AuditActionDelete, key, "setting deleted", nil),
		func(ctx context.Context) error {
			return h.store.Delete(ctx, key)
		})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Setting deleted", nil)
}

func (h *SettingsHandler) Reset(c *gin.Context) {
	h.mutate(c, services.AuditActionReset, "setting reset to default", h.store.Reset)
}

func (h *SettingsHandler) Deactivate(c *gin.Context) {
	h.mutate(c, services.AuditActionUpdate, "setting deactivated", h.store.Deactivate)
}

func (h *SettingsHandler) Reactivate(c *gin.Context) {
	h.mutate(c, services.AuditActionUpdate, "setting reactivated", h.store.Reactivate)
}

func (h *SettingsHandler) mutate(c *gin.Context, action, description string, op func(context.Context, string) (*models.Setting, error)) {
	key := c.Param("key")
	row, err := services.Audited(c.Request.Context(), h.audit,
		h.descriptor(action, key, description, nil),
		func(ctx context.Context) (*models.Setting, error) {
			return op(ctx, key)
		})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", row)
}

// ResetCategory resets every compiled default, or those of ?category= only.
func (h *SettingsHandler) ResetCategory(c *gin.Context) {
	category := c.Query("category")
	rows, err := services.Audited(c.Request.Context(), h.audit,
		services.AuditDescriptor{
			Action:      services.AuditActionReset,
			EntityType:  services.EntitySetting,
			Description: "settings reset to defaults",
			Args:        gin.H{"scope": h.store.Scope(), "category": category},
		},
		func(ctx context.Context) ([]models.Setting, error) {
			return h.store.ResetCategory(ctx, category)
		})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Settings reset", rows)
}

// Reload drops cached values so edits made directly in the database take effect.
func (h *SettingsHandler) Reload(c *gin.Context) {
	_ = services.AuditedExec(c.Request.Context(), h.audit,
		services.AuditDescriptor{
			Action:      services.AuditActionReload,
			EntityType:  services.EntitySetting,
			Description: "settings cache reloaded",
			Args:        gin.H{"scope": h.store.Scope()},
		},
		func(ctx context.Context) error {
			h.store.Reload(ctx)
			return nil
		})
	respond.OK(c, http.StatusOK, "Settings reloaded", nil)
}
