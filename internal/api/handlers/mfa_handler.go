package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/services"
)

// MFATempTokenHeader carries the MFA_TEMP token to the verify-login endpoint.
const MFATempTokenHeader = "X-MFA-Temp-Token"

type MFAHandler struct {
	mfa   *services.MFAService
	auth  *services.AuthService
	audit *services.AuditService
}

func NewMFAHandler(mfa *services.MFAService, auth *services.AuthService, audit *services.AuditService) *MFAHandler {
	return &MFAHandler{mfa: mfa, auth: auth, audit: audit}
}

type MFACodeRequest struct {
	Code string `json:"code" binding:"required"`
}

type MFAConfirmRequest struct {
	SetupToken string `json:"setupToken" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

func (h *MFAHandler) Enable(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	// the setup embeds the secret, so it is kept out of the audit snapshot
	var setup *services.MFASetup
	err := services.AuditedExec(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionEnable,
		EntityType:  services.EntityMFA,
		EntityID:    u.UUID,
		Description: "mfa setup started",
	}, func(ctx context.Context) (err error) {
		setup, err = h.mfa.Enable(ctx, u.ID)
		return err
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Scan the provisioning URI and confirm with a code", setup)
}

func (h *MFAHandler) Confirm(c *gin.Context) {
	var req MFAConfirmRequest
	if !bindJSON(c, &req) {
		return
	}
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var codes []string
	err := services.AuditedExec(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionUpdate,
		EntityType:  services.EntityMFA,
		EntityID:    u.UUID,
		Description: "mfa setup confirmed",
	}, func(ctx context.Context) (err error) {
		codes, err = h.mfa.Confirm(ctx, u.ID, req.SetupToken, req.Code)
		return err
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "MFA enabled, store the backup codes now", gin.H{"backupCodes": codes})
}

func (h *MFAHandler) Status(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	st, err := h.mfa.Status(c.Request.Context(), u.ID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", st)
}

func (h *MFAHandler) RegenerateBackupCodes(c *gin.Context) {
	var req MFACodeRequest
	if !bindJSON(c, &req) {
		return
	}
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var codes []string
	err := services.AuditedExec(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionReset,
		EntityType:  services.EntityMFA,
		EntityID:    u.UUID,
		Description: "backup codes regenerated",
	}, func(ctx context.Context) (err error) {
		codes, err = h.mfa.RegenerateBackupCodes(ctx, u.ID, req.Code)
		return err
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Backup codes regenerated", gin.H{"backupCodes": codes})
}

func (h *MFAHandler) Disable(c *gin.Context) {
	var req MFACodeRequest
	if !bindJSON(c, &req) {
		return
	}
	u, ok := currentUser(c)
	if !ok {
		return
	}
	err := services.AuditedExec(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionDelete,
		EntityType:  services.EntityMFA,
		EntityID:    u.UUID,
		Description: "mfa disabled",
	}, func(ctx context.Context) error {
		return h.mfa.Disable(ctx, u.ID, req.Code)
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "MFA disabled", nil)
}

// VerifyLogin completes a login that stopped at the MFA gate.
func (h *MFAHandler) VerifyLogin(c *gin.Context) {
	temp := headerToken(c, MFATempTokenHeader)
	if temp == "" {
		respond.Error(c, services.ErrInvalidMFAToken)
		return
	}
	var req MFACodeRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := services.Audited(c.Request.Context(), h.audit, services.AuditDescriptor{
		Action:      services.AuditActionLogin,
		EntityType:  services.EntityMFA,
		Description: "mfa login verification",
		EntityIDFrom: func(r any) string {
			if lr, ok := r.(*services.LoginResult); ok && lr.User != nil {
				return lr.User.UUID
			}
			return ""
		},
	}, func(ctx context.Context) (*services.LoginResult, error) {
		return h.auth.VerifyMFALogin(ctx, temp, req.Code, c.ClientIP())
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Login successful", res)
}
