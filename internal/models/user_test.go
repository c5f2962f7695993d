package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openUserTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}, &Role{}, &Permission{}, &BackupCode{}))
	return db
}

func TestUser_BeforeCreate(t *testing.T) {
	db := openUserTestDB(t)

	u := &User{Username: "alice", Email: "alice@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(u).Error)
	assert.NotEmpty(t, u.UUID)

	preset := &User{UUID: "fixed", Username: "bob", Email: "bob@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(preset).Error)
	assert.Equal(t, "fixed", preset.UUID)
}

func TestUser_LockUnlock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	u := &User{FailedAttempt: 5}

	u.Lock(now)
	assert.True(t, u.AccountLocked)
	require.NotNil(t, u.AccountLockedTime)
	assert.Equal(t, now, *u.AccountLockedTime)

	assert.False(t, u.LockExpired(now.Add(29*time.Minute), 30*time.Minute))
	assert.True(t, u.LockExpired(now.Add(30*time.Minute), 30*time.Minute))

	u.Unlock()
	assert.False(t, u.AccountLocked)
	assert.Nil(t, u.AccountLockedTime)
	assert.Zero(t, u.FailedAttempt)
	assert.True(t, u.LockExpired(now, time.Hour))
}

func TestUser_MFAStates(t *testing.T) {
	u := &User{}
	assert.False(t, u.MFAActive())
	assert.False(t, u.MFAPending())

	u.MFAEnabled = true
	assert.True(t, u.MFAPending())
	assert.False(t, u.MFAActive())

	u.MFAConfirmed = true
	assert.True(t, u.MFAActive())
	assert.False(t, u.MFAPending())
}

func TestUser_PasswordExpired(t *testing.T) {
	now := time.Now()
	u := &User{}
	assert.False(t, u.PasswordExpired(now))

	past := now.Add(-time.Hour)
	u.PasswordExpiryDate = &past
	assert.True(t, u.PasswordExpired(now))

	future := now.Add(time.Hour)
	u.PasswordExpiryDate = &future
	assert.False(t, u.PasswordExpired(now))
}
