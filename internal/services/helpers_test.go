package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/itinera/backend/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.BackupCode{},
		&models.Role{},
		&models.Permission{},
		&models.ActionType{},
		&models.Setting{},
		&models.AuditLog{},
	))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type testStores struct {
	security *SettingsStore
	auditLog *SettingsStore
	config   *SettingsStore
}

func setupStores(t *testing.T, db *gorm.DB) testStores {
	t.Helper()
	st := testStores{
		security: NewSettingsStore(db, models.ScopeSecurity, SecurityDefinitions(), SettingsOptions{}),
		auditLog: NewSettingsStore(db, models.ScopeAuditLogSetting, AuditLogSettingDefinitions(), SettingsOptions{}),
		config:   NewSettingsStore(db, models.ScopeAuditConfig, AuditConfigDefinitions(), SettingsOptions{}),
	}
	require.NoError(t, InitializeSettings(context.Background(), st.security, st.auditLog, st.config))
	return st
}

func setSetting(t *testing.T, s *SettingsStore, key, value string) {
	t.Helper()
	_, err := s.Update(context.Background(), key, value)
	require.NoError(t, err)
}

// fakeClock is a manually advanced clock shared by services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testHasher() PasswordHasher {
	return BcryptHasher{Cost: bcrypt.MinCost}
}

func createUser(t *testing.T, db *gorm.DB, username, password string) *models.User {
	t.Helper()
	hash, err := testHasher().Hash(password)
	require.NoError(t, err)
	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Enabled:      true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func reloadUser(t *testing.T, db *gorm.DB, id uint) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.First(&u, id).Error)
	return &u
}

// recordingNotifier captures notifications instead of sending them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}
