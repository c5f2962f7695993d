package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/metrics"
	"github.com/itinera/backend/internal/models"
)

// MFA states as reported by Status.
const (
	MFAStateDisabled = "DISABLED"
	MFAStatePending  = "PENDING_CONFIRMATION"
	MFAStateEnabled  = "ENABLED"
)

// MFASetup is returned once by Enable. The setup token must accompany Confirm.
type MFASetup struct {
	Secret          string    `json:"secret"`
	ProvisioningURI string    `json:"provisioningUri"`
	SetupToken      string    `json:"setupToken"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// MFAStatus describes the enrollment of one user.
type MFAStatus struct {
	State                string     `json:"state"`
	Enabled              bool       `json:"enabled"`
	Confirmed            bool       `json:"confirmed"`
	EnabledAt            *time.Time `json:"enabledAt,omitempty"`
	BackupCodesRemaining int64      `json:"backupCodesRemaining"`
}

// MFAService runs the TOTP enrollment state machine and verifies second factors.
type MFAService struct {
	db       *gorm.DB
	settings *SettingsStore
	notifier Notifier
	Now      func() time.Time
}

func NewMFAService(db *gorm.DB, settings *SettingsStore, notifier Notifier) *MFAService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &MFAService{db: db, settings: settings, notifier: notifier, Now: time.Now}
}

func (s *MFAService) totp(ctx context.Context) TOTP {
	return TOTP{
		Issuer: s.settings.GetString(ctx, KeyMFAIssuer),
		Digits: s.settings.GetInt(ctx, KeyMFATOTPDigits),
		Period: s.settings.GetInt(ctx, KeyMFATOTPPeriodSeconds),
		Skew:   s.settings.GetInt(ctx, KeyMFATOTPSkew),
	}
}

func (s *MFAService) loadUser(ctx context.Context, userID uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func hashSetupToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Enable starts enrollment. A pending setup is replaced; an active one is an error.
func (s *MFAService) Enable(ctx context.Context, userID uint) (*MFASetup, error) {
	if !s.settings.GetBool(ctx, KeyMFAEnabled) {
		return nil, ErrMFADisabled
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.MFAActive() {
		return nil, fmt.Errorf("%w: mfa already enabled", ErrMFAState)
	}

	secret, err := GenerateTOTPSecret()
	if err != nil {
		return nil, err
	}
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	expires := s.Now().Add(time.Duration(s.settings.GetInt(ctx, KeyMFASetupExpirationMinutes)) * time.Minute)

	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"mfa_enabled":          true,
		"mfa_confirmed":        false,
		"mfa_secret":           secret,
		"mfa_setup_token_hash": hashSetupToken(token),
		"mfa_setup_expires":    expires,
		"mfa_last_counter":     0,
	}).Error
	if err != nil {
		return nil, err
	}

	account := u.Email
	if account == "" {
		account = u.Username
	}
	return &MFASetup{
		Secret:          secret,
		ProvisioningURI: s.totp(ctx).ProvisionURI(secret, account),
		SetupToken:      token,
		ExpiresAt:       expires,
	}, nil
}

// Confirm finishes enrollment with the setup token and a code from the new secret and
// returns the backup codes. They are never retrievable again.
func (s *MFAService) Confirm(ctx context.Context, userID uint, setupToken, code string) ([]string, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.MFAPending() || u.MFASetupTokenHash == "" {
		return nil, fmt.Errorf("%w: no pending mfa setup", ErrMFAState)
	}
	now := s.Now()
	if u.MFASetupExpires == nil || now.After(*u.MFASetupExpires) {
		return nil, fmt.Errorf("%w: mfa setup expired", ErrMFAState)
	}
	if subtle.ConstantTimeCompare([]byte(hashSetupToken(setupToken)), []byte(u.MFASetupTokenHash)) != 1 {
		return nil, ErrInvalidMFAToken
	}
	ok, counter := s.totp(ctx).Verify(u.MFASecret, code, now)
	metrics.IncMFAVerification("totp", ok)
	if !ok {
		return nil, ErrInvalidMFACode
	}

	codes, rows, err := s.newBackupCodes(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := replaceBackupCodes(tx, u.ID, rows); err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
			"mfa_confirmed":        true,
			"mfa_enabled_at":       now,
			"mfa_setup_token_hash": "",
			"mfa_setup_expires":    nil,
			"mfa_last_counter":     counter,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).WithField("user_id", u.ID).Info("mfa enabled")
	s.notifier.Notify(ctx, Notification{
		Event: EventMFAEnabled, To: u.Email, Subject: "Two-factor authentication enabled",
		Data: map[string]any{"username": u.Username},
	})
	return codes, nil
}

// Status reports the enrollment state of a user.
func (s *MFAService) Status(ctx context.Context, userID uint) (*MFAStatus, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &MFAStatus{State: MFAStateDisabled, Enabled: u.MFAEnabled, Confirmed: u.MFAConfirmed, EnabledAt: u.MFAEnabledAt}
	switch {
	case u.MFAActive():
		st.State = MFAStateEnabled
	case u.MFAPending():
		st.State = MFAStatePending
	}
	if u.MFAActive() {
		err := s.db.WithContext(ctx).Model(&models.BackupCode{}).
			Where("user_id = ? AND used_at IS NULL", u.ID).
			Count(&st.BackupCodesRemaining).Error
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP code.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID uint, code string) ([]string, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.MFAActive() {
		return nil, fmt.Errorf("%w: mfa not enabled", ErrMFAState)
	}
	if err := s.verifyTOTP(ctx, u, code); err != nil {
		return nil, err
	}
	codes, rows, err := s.newBackupCodes(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceBackupCodes(tx, u.ID, rows)
	}); err != nil {
		return nil, err
	}
	return codes, nil
}

// Disable turns MFA off after a valid TOTP or backup code.
func (s *MFAService) Disable(ctx context.Context, userID uint, code string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.MFAActive() {
		return fmt.Errorf("%w: mfa not enabled", ErrMFAState)
	}
	if err := s.VerifyCode(ctx, u, code); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", u.ID).Delete(&models.BackupCode{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
			"mfa_enabled":          false,
			"mfa_confirmed":        false,
			"mfa_secret":           "",
			"mfa_enabled_at":       nil,
			"mfa_setup_token_hash": "",
			"mfa_setup_expires":    nil,
			"mfa_last_counter":     0,
		}).Error
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).WithField("user_id", u.ID).Info("mfa disabled")
	s.notifier.Notify(ctx, Notification{
		Event: EventMFADisabled, To: u.Email, Subject: "Two-factor authentication disabled",
		Data: map[string]any{"username": u.Username},
	})
	return nil
}

// VerifyCode accepts a current TOTP code or an unused backup code, which is consumed.
func (s *MFAService) VerifyCode(ctx context.Context, u *models.User, code string) error {
	if !u.MFAActive() {
		return fmt.Errorf("%w: mfa not enabled", ErrMFAState)
	}
	t := s.totp(ctx)
	if len(code) == t.Digits && isDigits(code) {
		if err := s.verifyTOTP(ctx, u, code); err == nil {
			return nil
		} else if !errors.Is(err, ErrInvalidMFACode) {
			return err
		}
	}
	if !looksLikeBackupCode(code) {
		return ErrInvalidMFACode
	}
	ok, err := s.consumeBackupCode(ctx, u.ID, code)
	if err != nil {
		return err
	}
	metrics.IncMFAVerification("backup_code", ok)
	if !ok {
		return ErrInvalidMFACode
	}
	logger.FromContext(ctx).WithField("user_id", u.ID).Info("backup code consumed")
	return nil
}

// verifyTOTP checks code and advances the last accepted counter so a code cannot be replayed.
func (s *MFAService) verifyTOTP(ctx context.Context, u *models.User, code string) error {
	ok, counter := s.totp(ctx).Verify(u.MFASecret, code, s.Now())
	if ok && counter > u.MFALastCounter {
		res := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND mfa_last_counter < ?", u.ID, counter).
			Update("mfa_last_counter", counter)
		if res.Error != nil {
			return res.Error
		}
		ok = res.RowsAffected == 1
		if ok {
			u.MFALastCounter = counter
		}
	} else {
		ok = false
	}
	metrics.IncMFAVerification("totp", ok)
	if !ok {
		return ErrInvalidMFACode
	}
	return nil
}

func (s *MFAService) consumeBackupCode(ctx context.Context, userID uint, code string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.BackupCode{}).
		Where("user_id = ? AND code_hash = ? AND used_at IS NULL", userID, backupCodeHash(userID, code)).
		Update("used_at", s.Now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *MFAService) newBackupCodes(ctx context.Context, userID uint) ([]string, []models.BackupCode, error) {
	n := s.settings.GetInt(ctx, KeyMFABackupCodeCount)
	length := s.settings.GetInt(ctx, KeyMFABackupCodeLength)
	if length < 6 {
		length = 6
	}
	codes := make([]string, 0, n)
	rows := make([]models.BackupCode, 0, n)
	seen := make(map[string]bool, n)
	for len(codes) < n {
		c, err := generateBackupCode(length)
		if err != nil {
			return nil, nil, err
		}
		h := backupCodeHash(userID, c)
		if seen[h] || isDigits(canonicalBackupCode(c)) {
			continue
		}
		seen[h] = true
		codes = append(codes, c)
		rows = append(rows, models.BackupCode{UserID: userID, CodeHash: h})
	}
	return codes, rows, nil
}

func replaceBackupCodes(tx *gorm.DB, userID uint, rows []models.BackupCode) error {
	if err := tx.Where("user_id = ?", userID).Delete(&models.BackupCode{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}
