package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/itinera/backend/internal/models"
)

// RegistryOptions carry the boot-time configuration the service graph needs.
type RegistryOptions struct {
	JWTSecret        string
	JWTIssuer        string
	SettingsCacheTTL time.Duration
	Notifier         Notifier
	Hasher           PasswordHasher
}

// Registry is the wired service graph shared by the HTTP routes, the scheduler and the CLI.
type Registry struct {
	DB *gorm.DB

	SecuritySettings *SettingsStore
	AuditLogSettings *SettingsStore
	AuditConfig      *SettingsStore

	Policy   *PasswordPolicy
	Lockout  *LockoutService
	Limiter  *LoginRateLimiter
	Tokens   *TokenService
	MFA      *MFAService
	RBAC     *RBACService
	Auth     *AuthService
	Audit    *AuditService
	Notifier Notifier
}

func NewRegistry(db *gorm.DB, opts RegistryOptions) *Registry {
	if opts.Notifier == nil {
		opts.Notifier = NoopNotifier{}
	}
	settingsOpts := SettingsOptions{CacheTTL: opts.SettingsCacheTTL}
	r := &Registry{
		DB:               db,
		SecuritySettings: NewSettingsStore(db, models.ScopeSecurity, SecurityDefinitions(), settingsOpts),
		AuditLogSettings: NewSettingsStore(db, models.ScopeAuditLogSetting, AuditLogSettingDefinitions(), settingsOpts),
		AuditConfig:      NewSettingsStore(db, models.ScopeAuditConfig, AuditConfigDefinitions(), settingsOpts),
		Notifier:         opts.Notifier,
	}
	r.Policy = NewPasswordPolicy(r.SecuritySettings)
	r.Lockout = NewLockoutService(db, r.SecuritySettings, r.Notifier)
	r.Limiter = NewLoginRateLimiter(r.SecuritySettings)
	r.Tokens = NewTokenService(opts.JWTSecret, opts.JWTIssuer, r.SecuritySettings)
	r.MFA = NewMFAService(db, r.SecuritySettings, r.Notifier)
	r.RBAC = NewRBACService(db)
	r.Audit = NewAuditService(db, nil, r.AuditLogSettings, r.AuditConfig)
	r.Auth = NewAuthService(db, AuthDeps{
		Settings: r.SecuritySettings,
		Policy:   r.Policy,
		Lockout:  r.Lockout,
		Limiter:  r.Limiter,
		Tokens:   r.Tokens,
		MFA:      r.MFA,
		RBAC:     r.RBAC,
		Hasher:   opts.Hasher,
		Notifier: r.Notifier,
	})
	return r
}

// Initialize seeds every settings scope, security first.
func (r *Registry) Initialize(ctx context.Context) error {
	return InitializeSettings(ctx, r.SecuritySettings, r.AuditLogSettings, r.AuditConfig)
}

// SetClock points every time-dependent service at now. Used by tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.Lockout.Now = now
	r.Limiter.Now = now
	r.Tokens.Now = now
	r.MFA.Now = now
	r.Auth.Now = now
	r.Audit.Now = now
}
