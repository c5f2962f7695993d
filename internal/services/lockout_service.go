package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/metrics"
	"github.com/itinera/backend/internal/models"
)

// LockoutService tracks failed logins per account and locks after the configured maximum.
// State lives on the user row; the in-memory user passed in is refreshed from it.
type LockoutService struct {
	db       *gorm.DB
	settings *SettingsStore
	notifier Notifier
	Now      func() time.Time
}

func NewLockoutService(db *gorm.DB, settings *SettingsStore, notifier Notifier) *LockoutService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &LockoutService{db: db, settings: settings, notifier: notifier, Now: time.Now}
}

// Enabled reports the lockout feature flag.
func (s *LockoutService) Enabled(ctx context.Context) bool {
	return s.settings.GetBool(ctx, KeyLockoutEnabled)
}

func (s *LockoutService) duration(ctx context.Context) time.Duration {
	return time.Duration(s.settings.GetInt(ctx, KeyLockoutDurationMinutes)) * time.Minute
}

// Check returns ErrAccountLocked while the lock on u is in force. An expired lock is
// cleared and persisted before returning nil.
func (s *LockoutService) Check(ctx context.Context, u *models.User) error {
	if !u.AccountLocked {
		return nil
	}
	// locks taken before the feature flag was turned off still run their course
	if !u.LockExpired(s.Now(), s.duration(ctx)) {
		return ErrAccountLocked
	}
	if err := s.persistUnlock(ctx, u); err != nil {
		return err
	}
	logger.FromContext(ctx).WithField("user_id", u.ID).Info("account lock expired")
	return nil
}

// RecordFailure counts one failed login and locks the account once the counter reaches
// the maximum. It reports whether this call locked the account.
func (s *LockoutService) RecordFailure(ctx context.Context, u *models.User) (bool, error) {
	if !s.Enabled(ctx) {
		return false, nil
	}
	now := s.Now()
	resetAfter := time.Duration(s.settings.GetInt(ctx, KeyLockoutCounterResetHours)) * time.Hour

	var counter any = gorm.Expr("failed_attempt + 1")
	if u.LastFailedAttemptTime != nil && resetAfter > 0 && now.Sub(*u.LastFailedAttemptTime) > resetAfter {
		// forgiveness window elapsed: this failure starts a new count
		counter = 1
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"failed_attempt":           counter,
		"last_failed_attempt_time": now,
	}).Error
	if err != nil {
		return false, err
	}

	var fresh models.User
	if err := s.db.WithContext(ctx).Select("id", "failed_attempt").First(&fresh, u.ID).Error; err != nil {
		return false, err
	}
	u.FailedAttempt = fresh.FailedAttempt
	u.LastFailedAttemptTime = &now

	max := s.settings.GetInt(ctx, KeyLockoutMaxFailedAttempts)
	if max <= 0 || u.FailedAttempt < max {
		return false, nil
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND account_locked = ?", u.ID, false).
		Updates(map[string]any{"account_locked": true, "account_locked_time": now})
	if res.Error != nil {
		return false, res.Error
	}
	u.Lock(now)
	if res.RowsAffected == 0 {
		// a concurrent failure took the lock
		return false, nil
	}

	metrics.IncLockout()
	logger.FromContext(ctx).WithFields(logrus.Fields{
		"user_id":  u.ID,
		"attempts": u.FailedAttempt,
	}).Warn("account locked after failed logins")
	s.notifier.Notify(ctx, Notification{
		Event:   EventAccountLocked,
		To:      u.Email,
		Subject: "Account locked",
		Data: map[string]any{
			"username": u.Username,
			"attempts": u.FailedAttempt,
			"minutes":  s.settings.GetInt(ctx, KeyLockoutDurationMinutes),
		},
	})
	return true, nil
}

// RecordSuccess clears the failure counter after a successful password check.
func (s *LockoutService) RecordSuccess(ctx context.Context, u *models.User) error {
	if u.FailedAttempt == 0 && u.LastFailedAttemptTime == nil {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"failed_attempt":           0,
		"last_failed_attempt_time": nil,
	}).Error
	if err != nil {
		return err
	}
	u.FailedAttempt = 0
	u.LastFailedAttemptTime = nil
	return nil
}

// Unlock clears the lock administratively.
func (s *LockoutService) Unlock(ctx context.Context, userID uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := s.persistUnlock(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *LockoutService) persistUnlock(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"account_locked":           false,
		"account_locked_time":      nil,
		"failed_attempt":           0,
		"last_failed_attempt_time": nil,
	}).Error
	if err != nil {
		return err
	}
	u.Unlock()
	return nil
}

// SweepExpired clears every lock whose duration has elapsed and returns how many were cleared.
func (s *LockoutService) SweepExpired(ctx context.Context) (int, error) {
	var locked []models.User
	if err := s.db.WithContext(ctx).Where("account_locked = ?", true).Find(&locked).Error; err != nil {
		return 0, err
	}
	now := s.Now()
	d := s.duration(ctx)
	cleared := 0
	for i := range locked {
		if !locked[i].LockExpired(now, d) {
			continue
		}
		if err := s.persistUnlock(ctx, &locked[i]); err != nil {
			return cleared, err
		}
		cleared++
	}
	if cleared > 0 {
		logger.FromContext(ctx).WithField("count", cleared).Info("expired account locks cleared")
	}
	return cleared, nil
}
