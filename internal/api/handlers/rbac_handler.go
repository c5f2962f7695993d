package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/services"
)

// RBACHandler manages action types, permissions and roles.
type RBACHandler struct {
	rbac  *services.RBACService
	audit *services.AuditService
}

func NewRBACHandler(rbac *services.RBACService, audit *services.AuditService) *RBACHandler {
	return &RBACHandler{rbac: rbac, audit: audit}
}

type ActionTypeRequest struct {
	Code        string `json:"code" binding:"required"`
	Description string `json:"description"`
}

type RolePermissionsRequest struct {
	PermissionIDs []uint `json:"permissionIds"`
}

func roleID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respond.Error(c, services.ErrRoleNotFound)
		return 0, false
	}
	return uint(id), true
}

func idString(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func (h *RBACHandler) ListActionTypes(c *gin.Context) {
	out, err := h.rbac.ListActionTypes(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", out)
}

func (h *RBACHandler) CreateActionType(c *gin.Context) {
	var req ActionTypeRequest
	if !bindJSON(c, &req) {
		return
	}
	at, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:       services.AuditActionCreate,
		EntityType:   services.EntityActionType,
		Description:  "action type registered",
		Args:         req,
		EntityIDFrom: func(r any) string { return r.(*models.ActionType).Code },
	}, func(ctx context.Context) (*models.ActionType, error) {
		return h.rbac.RegisterActionType(ctx, req.Code, req.Description)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, "Action type created", at)
}

func (h *RBACHandler) ListPermissions(c *gin.Context) {
	out, err := h.rbac.ListPermissions(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", out)
}

func (h *RBACHandler) CreatePermission(c *gin.Context) {
	var req services.PermissionInput
	if !bindJSON(c, &req) {
		return
	}
	p, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:       services.AuditActionCreate,
		EntityType:   services.EntityPermission,
		Description:  "permission created",
		Args:         req,
		EntityIDFrom: func(r any) string { return idString(r.(*models.Permission).ID) },
	}, func(ctx context.Context) (*models.Permission, error) {
		return h.rbac.CreatePermission(ctx, req)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, "Permission created", p)
}

func (h *RBACHandler) ListRoles(c *gin.Context) {
	out, err := h.rbac.ListRoles(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", out)
}

func (h *RBACHandler) GetRole(c *gin.Context) {
	id, ok := roleID(c)
	if !ok {
		return
	}
	r, err := h.rbac.GetRole(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", r)
}

func (h *RBACHandler) CreateRole(c *gin.Context) {
	var req services.RoleInput
	if !bindJSON(c, &req) {
		return
	}
	r, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:       services.AuditActionCreate,
		EntityType:   services.EntityRole,
		Description:  "role created",
		Args:         req,
		EntityIDFrom: func(r any) string { return idString(r.(*models.Role).ID) },
	}, func(ctx context.Context) (*models.Role, error) {
		return h.rbac.CreateRole(ctx, req)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, "Role created", r)
}

func (h *RBACHandler) UpdateRole(c *gin.Context) {
	id, ok := roleID(c)
	if !ok {
		return
	}
	var req services.RoleInput
	if !bindJSON(c, &req) {
		return
	}
	r, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionUpdate,
		EntityType:  services.EntityRole,
		EntityID:    idString(id),
		Description: "role updated",
		Args:        req,
	}, func(ctx context.Context) (*models.Role, error) {
		return h.rbac.UpdateRole(ctx, id, req)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Role updated", r)
}

func (h *RBACHandler) DeleteRole(c *gin.Context) {
	id, ok := roleID(c)
	if !ok {
		return
	}
	err := services.AuditedExec(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionDelete,
		EntityType:  services.EntityRole,
		EntityID:    idString(id),
		Description: "role deleted",
	}, func(ctx context.Context) error {
		return h.rbac.DeleteRole(ctx, id)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Role deleted", nil)
}

func (h *RBACHandler) SetRolePermissions(c *gin.Context) {
	id, ok := roleID(c)
	if !ok {
		return
	}
	var req RolePermissionsRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionAssign,
		EntityType:  services.EntityRole,
		EntityID:    idString(id),
		Description: "role permissions replaced",
		Args:        req,
	}, func(ctx context.Context) (*models.Role, error) {
		return h.rbac.SetRolePermissions(ctx, id, req.PermissionIDs)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Role permissions updated", r)
}
