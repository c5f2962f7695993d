package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/middleware"
	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/services"
)

// StatusMFARequired is the envelope code of a login that stopped at the MFA gate.
// The HTTP status stays 200; clients follow up at the MFA verify-login endpoint.
const StatusMFARequired = http.StatusFound

type AuthHandler struct {
	auth  *services.AuthService
	audit *services.AuditService
}

func NewAuthHandler(auth *services.AuthService, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{auth: auth, audit: audit}
}

type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionLogin,
		EntityType:  services.EntityUser,
		Description: "password login",
		Args:        req,
		EntityIDFrom: func(r any) string {
			if lr, ok := r.(*services.LoginResult); ok && lr.User != nil {
				return lr.User.UUID
			}
			return ""
		},
	}, func(ctx context.Context) (*services.LoginResult, error) {
		return h.auth.Login(ctx, req.Identifier, req.Password, c.ClientIP())
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	writeLoginResult(c, res)
}

func writeLoginResult(c *gin.Context, res *services.LoginResult) {
	if res.MFARequired {
		respond.OK(c, http.StatusOK, "MFA verification required", gin.H{
			"mfaRequired":        true,
			"tempToken":          res.TempToken,
			"tempTokenExpiresAt": res.TempTokenExpiresAt,
			"next":               "/api/mfa/verify-login",
			"status":             StatusMFARequired,
		})
		return
	}
	respond.OK(c, http.StatusOK, "Login successful", res)
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register creates a disabled account. The activation token travels only through the
// notification channel.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionCreate,
		EntityType:  services.EntityUser,
		Description: "self-service registration",
		Args:        req,
		EntityIDFrom: func(r any) string {
			return r.(*services.RegisterResult).User.UUID
		},
	}, func(ctx context.Context) (*services.RegisterResult, error) {
		return h.auth.Register(ctx, services.RegisterInput(req))
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, "Registration successful, check your email to activate the account", res)
}

type ActivateRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *AuthHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionEnable,
		EntityType:  services.EntityUser,
		Description: "account activation",
		EntityIDFrom: func(r any) string {
			return r.(*models.User).UUID
		},
	}, func(ctx context.Context) (*models.User, error) {
		return h.auth.Activate(ctx, req.Token)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Account activated", u)
}

// Refresh exchanges the REFRESH token in the Authorization header for a new ACCESS token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, ok := middleware.BearerToken(c)
	if !ok {
		respond.Unauthorized(c, "Authorization header required")
		return
	}
	res, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Token refreshed", res)
}

// Logout is stateless: tokens are not tracked server side, so this only records the event.
func (h *AuthHandler) Logout(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	_ = services.AuditedExec(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionLogout,
		EntityType:  services.EntityUser,
		EntityID:    u.UUID,
		Description: "logout",
	}, func(context.Context) error { return nil })
	respond.OK(c, http.StatusOK, "Logged out", nil)
}

func (h *AuthHandler) Me(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	respond.OK(c, http.StatusOK, "OK", gin.H{
		"user":        u,
		"permissions": models.EffectivePermissions(u).Refs(),
	})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	u, ok := currentUser(c)
	if !ok {
		return
	}
	err := services.AuditedExec(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionUpdate,
		EntityType:  services.EntityUser,
		EntityID:    u.UUID,
		Description: "password change",
		Args:        req,
	}, func(ctx context.Context) error {
		return h.auth.ChangePassword(ctx, u.ID, req.CurrentPassword, req.NewPassword)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Password updated successfully", nil)
}
