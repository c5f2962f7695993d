package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/ids"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/services"
)

// UserHandler administers accounts. Users are addressed by their obfuscated display ID.
type UserHandler struct {
	rbac    *services.RBACService
	lockout *services.LockoutService
	audit   *services.AuditService
	ids     ids.Obfuscator
}

func NewUserHandler(rbac *services.RBACService, lockout *services.LockoutService, audit *services.AuditService, obf ids.Obfuscator) *UserHandler {
	return &UserHandler{rbac: rbac, lockout: lockout, audit: audit, ids: obf}
}

// UserView is a user as shown at the API boundary.
type UserView struct {
	ID          string                 `json:"id"`
	User        *models.User           `json:"user"`
	Permissions []models.PermissionRef `json:"permissions"`
}

type AssignRolesRequest struct {
	RoleIDs []uint `json:"roleIds"`
}

func (h *UserHandler) view(u *models.User) UserView {
	return UserView{
		ID:          h.ids.Encode(uint64(u.ID)),
		User:        u,
		Permissions: models.EffectivePermissions(u).Refs(),
	}
}

func (h *UserHandler) userID(c *gin.Context) (uint, bool) {
	id, err := h.ids.Decode(c.Param("id"))
	if err != nil || id == 0 || uint64(uint(id)) != id {
		respond.Error(c, services.ErrUserNotFound)
		return 0, false
	}
	return uint(id), true
}

func (h *UserHandler) Get(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}
	u, err := h.rbac.LoadUser(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", h.view(u))
}

func (h *UserHandler) AssignRoles(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}
	var req AssignRolesRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionAssign,
		EntityType:  services.EntityUser,
		EntityID:    c.Param("id"),
		Description: "user roles replaced",
		Args:        req,
	}, func(ctx context.Context) (*models.User, error) {
		return h.rbac.AssignRoles(ctx, id, req.RoleIDs)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Roles updated", h.view(u))
}

func (h *UserHandler) Unlock(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}
	u, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionUnlock,
		EntityType:  services.EntityUser,
		EntityID:    c.Param("id"),
		Description: "account unlocked by administrator",
	}, func(ctx context.Context) (*models.User, error) {
		return h.lockout.Unlock(ctx, id)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Account unlocked", gin.H{"id": c.Param("id"), "accountLocked": u.AccountLocked})
}
