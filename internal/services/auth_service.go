package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/metrics"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/util"
)

// LoginResult is either a completed login with both tokens or an MFA challenge
// carrying only the temp token.
type LoginResult struct {
	MFARequired           bool         `json:"mfaRequired"`
	TempToken             string       `json:"tempToken,omitempty"`
	TempTokenExpiresAt    *time.Time   `json:"tempTokenExpiresAt,omitempty"`
	AccessToken           string       `json:"accessToken,omitempty"`
	AccessTokenExpiresAt  *time.Time   `json:"accessTokenExpiresAt,omitempty"`
	RefreshToken          string       `json:"refreshToken,omitempty"`
	RefreshTokenExpiresAt *time.Time   `json:"refreshTokenExpiresAt,omitempty"`
	TokenType             string       `json:"tokenType,omitempty"`
	PasswordExpired       bool         `json:"passwordExpired"`
	User                  *models.User `json:"user,omitempty"`
}

// RefreshResult carries a new access token. The refresh token is not rotated.
type RefreshResult struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	TokenType            string    `json:"tokenType"`
}

// RegisterInput is a self-service signup.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResult is the disabled account and the token that activates it.
type RegisterResult struct {
	User              *models.User `json:"user"`
	RegistrationToken string       `json:"-"`
	ExpiresAt         time.Time    `json:"activationExpiresAt"`
}

// AuthDeps are the collaborators of AuthService.
type AuthDeps struct {
	Settings *SettingsStore
	Policy   *PasswordPolicy
	Lockout  *LockoutService
	Limiter  *LoginRateLimiter
	Tokens   *TokenService
	MFA      *MFAService
	RBAC     *RBACService
	Hasher   PasswordHasher
	Notifier Notifier
}

// AuthService runs the login pipeline: rate limit, user lookup, lockout, password,
// MFA gate, token issuance.
type AuthService struct {
	db *gorm.DB
	AuthDeps
	Now func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(db *gorm.DB, deps AuthDeps) *AuthService {
	if deps.Hasher == nil {
		deps.Hasher = BcryptHasher{}
	}
	if deps.Notifier == nil {
		deps.Notifier = NoopNotifier{}
	}
	return &AuthService{db: db, AuthDeps: deps, Now: time.Now}
}

// FindByIdentifier resolves a username or an email address.
func (s *AuthService) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrUserNotFound
	}
	var u models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR LOWER(email) = ?", identifier, strings.ToLower(identifier)).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *AuthService) findByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// burnHash spends the same time as a real verify so unknown users are not distinguishable.
func (s *AuthService) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("itinera-timing-equalizer")
	})
	if s.dummyHash != "" {
		s.Hasher.Verify(password, s.dummyHash)
	}
}

// Login authenticates identifier/password from source (the client address).
func (s *AuthService) Login(ctx context.Context, identifier, password, source string) (*LoginResult, error) {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"identifier": util.SanitizeForLog(identifier),
		"source":     source,
	})

	if !s.Limiter.Allow(ctx, source) {
		metrics.IncRateLimited()
		metrics.IncLogin("rate_limited")
		log.Warn("login rate limited")
		return nil, ErrRateLimited
	}

	u, err := s.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.burnHash(password)
			metrics.IncLogin("invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.Lockout.Check(ctx, u); err != nil {
		metrics.IncLogin("locked")
		return nil, err
	}

	if !s.Hasher.Verify(password, u.PasswordHash) {
		locked, err := s.Lockout.RecordFailure(ctx, u)
		if err != nil {
			log.WithError(err).Error("failed to record login failure")
		}
		metrics.IncLogin("invalid_credentials")
		if locked {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if !u.Enabled {
		metrics.IncLogin("disabled")
		return nil, ErrAccountDisabled
	}

	if u.MFAActive() {
		// the failure counter is cleared only once the second factor passes
		tmp, err := s.Tokens.Issue(ctx, u.Username, TokenMFATemp)
		if err != nil {
			return nil, err
		}
		metrics.IncLogin("mfa_required")
		return &LoginResult{
			MFARequired:        true,
			TempToken:          tmp.Token,
			TempTokenExpiresAt: &tmp.ExpiresAt,
		}, nil
	}

	if err := s.Lockout.RecordSuccess(ctx, u); err != nil {
		return nil, err
	}
	res, err := s.completeLogin(ctx, u)
	if err != nil {
		return nil, err
	}
	metrics.IncLogin("success")
	log.WithField("user_id", u.ID).Info("login succeeded")
	return res, nil
}

// VerifyMFALogin exchanges an MFA temp token and a TOTP or backup code for the final tokens.
func (s *AuthService) VerifyMFALogin(ctx context.Context, tempToken, code, source string) (*LoginResult, error) {
	if !s.Limiter.Allow(ctx, source) {
		metrics.IncRateLimited()
		return nil, ErrRateLimited
	}
	claims, err := s.Tokens.Validate(tempToken, TokenMFATemp)
	if err != nil {
		return nil, ErrInvalidMFAToken
	}
	u, err := s.findByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidMFAToken
		}
		return nil, err
	}
	if !u.Enabled {
		return nil, ErrAccountDisabled
	}
	if err := s.Lockout.Check(ctx, u); err != nil {
		return nil, err
	}
	if err := s.MFA.VerifyCode(ctx, u, code); err != nil {
		if errors.Is(err, ErrMFAState) {
			// MFA was turned off after the temp token was issued
			return nil, ErrInvalidMFAToken
		}
		if errors.Is(err, ErrInvalidMFACode) {
			locked, lerr := s.Lockout.RecordFailure(ctx, u)
			if lerr != nil {
				logger.FromContext(ctx).WithError(lerr).Error("failed to record mfa failure")
			}
			metrics.IncLogin("invalid_mfa_code")
			if locked {
				return nil, ErrAccountLocked
			}
		}
		return nil, err
	}
	if err := s.Lockout.RecordSuccess(ctx, u); err != nil {
		return nil, err
	}
	res, err := s.completeLogin(ctx, u)
	if err != nil {
		return nil, err
	}
	metrics.IncLogin("success")
	return res, nil
}

func (s *AuthService) completeLogin(ctx context.Context, u *models.User) (*LoginResult, error) {
	access, err := s.Tokens.Issue(ctx, u.Username, TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Tokens.Issue(ctx, u.Username, TokenRefresh)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).Update("last_login", now).Error; err != nil {
		logger.FromContext(ctx).WithError(err).Warn("failed to record last login")
	}
	u.LastLogin = &now
	return &LoginResult{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  &access.ExpiresAt,
		RefreshToken:          refresh.Token,
		RefreshTokenExpiresAt: &refresh.ExpiresAt,
		TokenType:             "Bearer",
		PasswordExpired:       u.PasswordExpired(now),
		User:                  u,
	}, nil
}

// Refresh exchanges a REFRESH token for a new ACCESS token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.Tokens.Validate(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}
	u, err := s.findByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !u.Enabled {
		return nil, ErrAccountDisabled
	}
	if err := s.Lockout.Check(ctx, u); err != nil {
		return nil, err
	}
	access, err := s.Tokens.Issue(ctx, u.Username, TokenAccess)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{AccessToken: access.Token, AccessTokenExpiresAt: access.ExpiresAt, TokenType: "Bearer"}, nil
}

// Authenticate resolves an ACCESS token to its user with roles and permissions loaded.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := s.Tokens.Validate(accessToken, TokenAccess)
	if err != nil {
		return nil, err
	}
	var u models.User
	err = s.db.WithContext(ctx).Preload("Roles.Permissions").Where("username = ?", claims.Subject).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !u.Enabled {
		return nil, ErrAccountDisabled
	}
	if err := s.Lockout.Check(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Register creates a disabled account and sends its activation token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrValidation)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if err := s.Policy.Validate(ctx, in.Username, in.Password); err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR LOWER(email) = ?", in.Username, in.Email).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrConflict
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	token, err := s.Tokens.Issue(ctx, in.Username, TokenRegistration)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Username:           in.Username,
		Email:              in.Email,
		PasswordHash:       hash,
		PasswordExpiryDate: s.Policy.ExpiryFrom(ctx, s.Now()),
		ActivationTokenID:  token.ID,
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	if s.RBAC != nil {
		if err := s.RBAC.AssignRoleByName(ctx, u.ID, RoleUser); err != nil && !errors.Is(err, ErrRoleNotFound) {
			return nil, err
		}
	}

	s.Notifier.Notify(ctx, Notification{
		Event:   EventAccountActivation,
		To:      u.Email,
		Subject: "Activate your account",
		Data:    map[string]any{"username": u.Username, "token": token.Token},
	})
	logger.FromContext(ctx).WithField("user_id", u.ID).Info("user registered")
	return &RegisterResult{User: u, RegistrationToken: token.Token, ExpiresAt: token.ExpiresAt}, nil
}

// Activate enables the account named by a REGISTRATION token. Each token works once.
func (s *AuthService) Activate(ctx context.Context, registrationToken string) (*models.User, error) {
	claims, err := s.Tokens.Validate(registrationToken, TokenRegistration)
	if err != nil {
		return nil, err
	}
	u, err := s.findByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if u.ActivationTokenID == "" || u.ActivationTokenID != claims.ID {
		return nil, ErrActivationTokenUsed
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND activation_token_id = ?", u.ID, claims.ID).
		Updates(map[string]any{"enabled": true, "activation_token_id": ""})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrActivationTokenUsed
	}
	u.Enabled = true
	u.ActivationTokenID = ""
	return u, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !s.Hasher.Verify(current, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	if current == next {
		return &PasswordPolicyError{Violations: []string{"must differ from the current password"}}
	}
	if err := s.setPassword(ctx, &u, next); err != nil {
		return err
	}
	s.Notifier.Notify(ctx, Notification{
		Event: EventPasswordChanged, To: u.Email, Subject: "Password changed",
		Data: map[string]any{"username": u.Username},
	})
	return nil
}

// ResetPassword sets a new password for identifier and clears any lock. Used by the operator CLI.
func (s *AuthService) ResetPassword(ctx context.Context, identifier, next string) (*models.User, error) {
	u, err := s.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := s.setPassword(ctx, u, next); err != nil {
		return nil, err
	}
	if _, err := s.Lockout.Unlock(ctx, u.ID); err != nil {
		return nil, err
	}
	u.Unlock()
	return u, nil
}

func (s *AuthService) setPassword(ctx context.Context, u *models.User, next string) error {
	if err := s.Policy.Validate(ctx, u.Username, next); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(next)
	if err != nil {
		return err
	}
	expiry := s.Policy.ExpiryFrom(ctx, s.Now())
	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"password_hash":        hash,
		"password_expiry_date": expiry,
	}).Error
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.PasswordExpiryDate = expiry
	return nil
}

// CreateUser inserts an enabled account directly. Used by the seeder.
func (s *AuthService) CreateUser(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := s.Policy.Validate(ctx, in.Username, in.Password); err != nil {
		return nil, err
	}
	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Username:           strings.TrimSpace(in.Username),
		Email:              strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash:       hash,
		Enabled:            true,
		PasswordExpiryDate: s.Policy.ExpiryFrom(ctx, s.Now()),
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return u, nil
}
