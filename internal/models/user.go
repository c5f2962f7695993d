package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a local account. Credentials, lockout counters and MFA state live on the row
// so concurrent requests share them through the database.
type User struct {
	ID           uint   `json:"-" gorm:"primaryKey"`
	UUID         string `json:"uuid" gorm:"uniqueIndex;not null"`
	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	Enabled      bool   `json:"enabled" gorm:"default:false"`

	// Lockout
	AccountLocked         bool       `json:"accountLocked" gorm:"default:false"`
	FailedAttempt         int        `json:"-" gorm:"default:0"`
	LastFailedAttemptTime *time.Time `json:"-"`
	AccountLockedTime     *time.Time `json:"accountLockedTime,omitempty"`

	PasswordExpiryDate *time.Time `json:"passwordExpiryDate,omitempty"`
	LastLogin          *time.Time `json:"lastLogin,omitempty"`
	// ActivationTokenID is the jti of the outstanding registration token.
	ActivationTokenID string `json:"-" gorm:"index"`

	// MFA
	MFAEnabled        bool       `json:"mfaEnabled" gorm:"default:false"`
	MFASecret         string     `json:"-"`
	MFAConfirmed      bool       `json:"mfaConfirmed" gorm:"default:false"`
	MFAEnabledAt      *time.Time `json:"mfaEnabledAt,omitempty"`
	MFASetupTokenHash string     `json:"-"`
	MFASetupExpires   *time.Time `json:"-"`
	MFALastCounter    int64      `json:"-" gorm:"default:0"`

	Roles []Role `json:"roles,omitempty" gorm:"many2many:user_roles;"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate generates UUID for new users
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UUID == "" {
		u.UUID = uuid.New().String()
	}
	return nil
}

// Lock marks the account locked at now. AccountLocked and AccountLockedTime always move together.
func (u *User) Lock(now time.Time) {
	u.AccountLocked = true
	t := now
	u.AccountLockedTime = &t
}

// Unlock clears the lock and the failure counter.
func (u *User) Unlock() {
	u.AccountLocked = false
	u.AccountLockedTime = nil
	u.FailedAttempt = 0
	u.LastFailedAttemptTime = nil
}

// LockExpired reports whether a lock taken at AccountLockedTime has run for at least d.
func (u *User) LockExpired(now time.Time, d time.Duration) bool {
	if !u.AccountLocked || u.AccountLockedTime == nil {
		return true
	}
	return !now.Before(u.AccountLockedTime.Add(d))
}

// MFAActive reports whether login requires a second factor.
func (u *User) MFAActive() bool {
	return u.MFAEnabled && u.MFAConfirmed
}

// MFAPending reports whether a setup was started but not confirmed.
func (u *User) MFAPending() bool {
	return u.MFAEnabled && !u.MFAConfirmed
}

// PasswordExpired reports whether the password expiry date has passed.
func (u *User) PasswordExpired(now time.Time) bool {
	return u.PasswordExpiryDate != nil && now.After(*u.PasswordExpiryDate)
}

// BackupCode is a single-use MFA recovery code. Only the hash is stored.
type BackupCode struct {
	ID        uint       `json:"-" gorm:"primaryKey"`
	UserID    uint       `json:"-" gorm:"index;not null"`
	CodeHash  string     `json:"-" gorm:"uniqueIndex;not null"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
