package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itinera/backend/internal/api/handlers"
	"github.com/itinera/backend/internal/api/middleware"
	"github.com/itinera/backend/internal/ids"
	"github.com/itinera/backend/internal/services"
)

const (
	actionRead   = "read"
	actionCreate = "create"
	actionUpdate = "update"
	actionDelete = "delete"
)

// Register wires every API route onto router.
func Register(router *gin.Engine, reg *services.Registry, obf ids.Obfuscator) {
	router.GET("/api/health", handlers.HealthHandler(reg.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(middleware.RequestMeta())

	authHandler := handlers.NewAuthHandler(reg.Auth, reg.Audit)
	mfaHandler := handlers.NewMFAHandler(reg.MFA, reg.Auth, reg.Audit)
	authMiddleware := middleware.AuthMiddleware(reg.Auth)

	// Public: each of these validates its own credential.
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/activate", authHandler.Activate)
	api.POST("/auth/token/refresh", authHandler.Refresh)
	api.POST("/mfa/verify-login", mfaHandler.VerifyLogin)

	protected := api.Group("/")
	protected.Use(authMiddleware)
	{
		protected.GET("/auth/me", authHandler.Me)
		protected.POST("/auth/logout", authHandler.Logout)
		protected.POST("/auth/change-password", authHandler.ChangePassword)

		protected.POST("/mfa/enable", mfaHandler.Enable)
		protected.POST("/mfa/confirm", mfaHandler.Confirm)
		protected.GET("/mfa/status", mfaHandler.Status)
		protected.POST("/mfa/status", mfaHandler.Status)
		protected.POST("/mfa/regenerate-backup-codes", mfaHandler.RegenerateBackupCodes)
		protected.POST("/mfa/disable", mfaHandler.Disable)

		registerSettings(protected.Group("/security-settings"), handlers.NewSettingsHandler(reg.SecuritySettings, reg.Audit))
		registerSettings(protected.Group("/audit-log-settings"), handlers.NewSettingsHandler(reg.AuditLogSettings, reg.Audit))
		registerSettings(protected.Group("/audit-config"), handlers.NewSettingsHandler(reg.AuditConfig, reg.Audit))

		auditLogHandler := handlers.NewAuditLogHandler(reg.Audit)
		auditLogs := protected.Group("/audit-logs", middleware.RequirePermission(actionRead, services.ResourceAuditLog))
		auditLogs.GET("", auditLogHandler.List)
		auditLogs.GET("/:eventId", auditLogHandler.Get)

		rbacHandler := handlers.NewRBACHandler(reg.RBAC, reg.Audit)
		protected.GET("/action-types", middleware.RequirePermission(actionRead, services.ResourcePermission), rbacHandler.ListActionTypes)
		protected.POST("/action-types", middleware.RequirePermission(actionCreate, services.ResourcePermission), rbacHandler.CreateActionType)
		protected.GET("/permissions", middleware.RequirePermission(actionRead, services.ResourcePermission), rbacHandler.ListPermissions)
		protected.POST("/permissions", middleware.RequirePermission(actionCreate, services.ResourcePermission), rbacHandler.CreatePermission)

		roles := protected.Group("/roles")
		roles.GET("", middleware.RequirePermission(actionRead, services.ResourceRole), rbacHandler.ListRoles)
		roles.POST("", middleware.RequirePermission(actionCreate, services.ResourceRole), rbacHandler.CreateRole)
		roles.GET("/:id", middleware.RequirePermission(actionRead, services.ResourceRole), rbacHandler.GetRole)
		roles.PUT("/:id", middleware.RequirePermission(actionUpdate, services.ResourceRole), rbacHandler.UpdateRole)
		roles.DELETE("/:id", middleware.RequirePermission(actionDelete, services.ResourceRole), rbacHandler.DeleteRole)
		roles.PUT("/:id/permissions", middleware.RequirePermission(actionUpdate, services.ResourceRole), rbacHandler.SetRolePermissions)

		userHandler := handlers.NewUserHandler(reg.RBAC, reg.Lockout, reg.Audit, obf)
		users := protected.Group("/users")
		users.GET("/:id", middleware.RequirePermission(actionRead, services.ResourceUser), userHandler.Get)
		users.PUT("/:id/roles", middleware.RequirePermission(actionUpdate, services.ResourceUser), userHandler.AssignRoles)
		users.POST("/:id/unlock", middleware.RequirePermission(actionUpdate, services.ResourceUser), userHandler.Unlock)
	}
}

func registerSettings(g *gin.RouterGroup, h *handlers.SettingsHandler) {
	read := middleware.RequirePermission(actionRead, services.ResourceSetting)
	update := middleware.RequirePermission(actionUpdate, services.ResourceSetting)

	g.GET("", read, h.List)
	g.GET("/categories", read, h.Categories)
	g.POST("", middleware.RequirePermission(actionCreate, services.ResourceSetting), h.Create)
	g.POST("/reset", update, h.ResetCategory)
	g.POST("/reload", update, h.Reload)
	g.GET("/keys/:key", read, h.Get)
	g.PUT("/keys/:key", update, h.Update)
	g.DELETE("/keys/:key", middleware.RequirePermission(actionDelete, services.ResourceSetting), h.Delete)
	g.POST("/keys/:key/reset", update, h.Reset)
	g.POST("/keys/:key/deactivate", update, h.Deactivate)
	g.POST("/keys/:key/reactivate", update, h.Reactivate)
}
