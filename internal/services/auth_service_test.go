package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itinera/backend/internal/models"
)

type authFixture struct {
	svc      *AuthService
	st       testStores
	clock    *fakeClock
	notifier *recordingNotifier
}

func newTestAuth(t *testing.T) authFixture {
	db := setupTestDB(t)
	st := setupStores(t, db)
	clock := newFakeClock()
	notifier := &recordingNotifier{}

	lockout := NewLockoutService(db, st.security, notifier)
	lockout.Now = clock.Now
	limiter := NewLoginRateLimiter(st.security)
	limiter.Now = clock.Now
	tokens := NewTokenService("test-secret-test-secret-test-secret", "itinera-test", st.security)
	tokens.Now = clock.Now
	mfa := NewMFAService(db, st.security, notifier)
	mfa.Now = clock.Now
	rbac := NewRBACService(db)

	svc := NewAuthService(db, AuthDeps{
		Settings: st.security,
		Policy:   NewPasswordPolicy(st.security),
		Lockout:  lockout,
		Limiter:  limiter,
		Tokens:   tokens,
		MFA:      mfa,
		RBAC:     rbac,
		Hasher:   testHasher(),
		Notifier: notifier,
	})
	svc.Now = clock.Now
	return authFixture{svc: svc, st: st, clock: clock, notifier: notifier}
}

func TestAuth_LoginIssuesTokens(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	res, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.MFARequired)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.False(t, res.PasswordExpired)

	claims, err := f.svc.Tokens.Validate(res.AccessToken, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	_, err = f.svc.Tokens.Validate(res.RefreshToken, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	stored := reloadUser(t, f.svc.db, u.ID)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, stored.LastLogin.Equal(f.clock.Now()))
}

func TestAuth_LoginByEmail(t *testing.T) {
	f := newTestAuth(t)
	createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	res, err := f.svc.Login(context.Background(), "ALICE@example.com", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuth_LoginUnknownUserAndBadPassword(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	_, err := f.svc.Login(ctx, "nobody", "Str0ng!Pass", "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "alice", "wrong", "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, reloadUser(t, f.svc.db, u.ID).FailedAttempt)
}

func TestAuth_LoginLocksAfterRepeatedFailures(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	var err error
	for i := 0; i < 5; i++ {
		_, err = f.svc.Login(ctx, "alice", "wrong", "10.0.0.1")
	}
	assert.ErrorIs(t, err, ErrAccountLocked)

	// correct password is refused while locked
	_, err = f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	assert.ErrorIs(t, err, ErrAccountLocked)

	f.clock.Advance(31 * time.Minute)
	res, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuth_LoginSuccessResetsCounter(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	_, _ = f.svc.Login(ctx, "alice", "wrong", "10.0.0.1")
	_, _ = f.svc.Login(ctx, "alice", "wrong", "10.0.0.1")
	_, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 0, reloadUser(t, f.svc.db, u.ID).FailedAttempt)
}

func TestAuth_LoginRateLimitedPerSource(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	setSetting(t, f.st.security, KeyRateLimitCapacity, "2")
	createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
		require.NoError(t, err)
	}
	_, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.2")
	assert.NoError(t, err)
}

func TestAuth_LoginDisabledAccount(t *testing.T) {
	f := newTestAuth(t)
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")
	require.NoError(t, f.svc.db.Model(u).Update("enabled", false).Error)

	_, err := f.svc.Login(context.Background(), "alice", "Str0ng!Pass", "10.0.0.1")
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestAuth_LoginReportsExpiredPassword(t *testing.T) {
	f := newTestAuth(t)
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")
	past := f.clock.Now().Add(-time.Hour)
	require.NoError(t, f.svc.db.Model(u).Update("password_expiry_date", past).Error)

	res, err := f.svc.Login(context.Background(), "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.PasswordExpired)
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuth_MFALoginFlow(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")
	backup := enrollUser(t, f.svc.MFA, f.clock, u)

	res, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.MFARequired)
	assert.NotEmpty(t, res.TempToken)
	assert.Empty(t, res.AccessToken)

	// the temp token is no access token
	_, err = f.svc.Authenticate(ctx, res.TempToken)
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	_, err = f.svc.VerifyMFALogin(ctx, res.TempToken, "000000", "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidMFACode)

	secret := reloadUser(t, f.svc.db, u.ID).MFASecret
	final, err := f.svc.VerifyMFALogin(ctx, res.TempToken, currentCode(t, f.svc.MFA, secret), "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, final.AccessToken)
	assert.NotEmpty(t, final.RefreshToken)

	again, err := f.svc.VerifyMFALogin(ctx, res.TempToken, backup[0], "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, again.AccessToken)
}

func TestAuth_MFACodeFailuresCountTowardLockout(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")
	enrollUser(t, f.svc.MFA, f.clock, u)

	res, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.svc.VerifyMFALogin(ctx, res.TempToken, "000000", "10.0.0.1")
		assert.ErrorIs(t, err, ErrInvalidMFACode)
	}

	// a fresh password login does not clear the count while MFA is pending
	res, err = f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 3, reloadUser(t, f.svc.db, u.ID).FailedAttempt)

	_, err = f.svc.VerifyMFALogin(ctx, res.TempToken, "000000", "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidMFACode)
	_, err = f.svc.VerifyMFALogin(ctx, res.TempToken, "000000", "10.0.0.1")
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.True(t, reloadUser(t, f.svc.db, u.ID).AccountLocked)

	_, err = f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestAuth_VerifyMFALoginRejectsOtherTokens(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	res, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)

	_, err = f.svc.VerifyMFALogin(ctx, res.AccessToken, "123456", "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidMFAToken)
	_, err = f.svc.VerifyMFALogin(ctx, "garbage", "123456", "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidMFAToken)
}

func TestAuth_RefreshAndAuthenticate(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	res, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, res.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Authenticate(ctx, res.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	refreshed, err := f.svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	u, err := f.svc.Authenticate(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestAuth_RegisterAndActivate(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	_, err := f.svc.RBAC.EnsureSystemRole(ctx, RoleUser, "")
	require.NoError(t, err)

	reg, err := f.svc.Register(ctx, RegisterInput{Username: "carol", Email: "Carol@Example.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)
	assert.False(t, reg.User.Enabled)
	assert.Equal(t, "carol@example.com", reg.User.Email)
	require.NotNil(t, reg.User.PasswordExpiryDate)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, EventAccountActivation, sent[0].Event)
	assert.Equal(t, reg.RegistrationToken, sent[0].Data["token"])

	_, err = f.svc.Login(ctx, "carol", "Str0ng!Pass", "10.0.0.1")
	assert.ErrorIs(t, err, ErrAccountDisabled)

	u, err := f.svc.Activate(ctx, reg.RegistrationToken)
	require.NoError(t, err)
	assert.True(t, u.Enabled)

	_, err = f.svc.Activate(ctx, reg.RegistrationToken)
	assert.ErrorIs(t, err, ErrActivationTokenUsed)

	loaded, err := f.svc.RBAC.LoadUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Roles, 1)
	assert.Equal(t, RoleUser, loaded.Roles[0].Name)

	_, err = f.svc.Login(ctx, "carol", "Str0ng!Pass", "10.0.0.1")
	assert.NoError(t, err)
}

func TestAuth_RegisterValidation(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	_, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: "Str0ng!Pass"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "dave", Email: "not-an-email", Password: "Str0ng!Pass"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "dave", Email: "dave@example.com", Password: "weak"})
	var pe *PasswordPolicyError
	require.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, pe.Violations)
}

func TestAuth_RegisterOverlongPasswordIsPolicyViolation(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{
		Username: "erin",
		Email:    "erin@example.com",
		Password: "Str0ng!Pass" + strings.Repeat("x", 69),
	})
	var pe *PasswordPolicyError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Violations, "must be at most 72 bytes")

	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")
	err = f.svc.ChangePassword(ctx, u.ID, "Str0ng!Pass", "N3w!Password"+strings.Repeat("y", 68))
	assert.ErrorIs(t, err, ErrPasswordPolicy)
}

func TestAuth_ActivateRejectsAccessToken(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	createUser(t, f.svc.db, "alice", "Str0ng!Pass")
	res, err := f.svc.Login(ctx, "alice", "Str0ng!Pass", "10.0.0.1")
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, res.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidTokenType)
}

func TestAuth_ChangePassword(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, "wrong", "N3w!Password"), ErrInvalidCredentials)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, "Str0ng!Pass", "Str0ng!Pass"), ErrPasswordPolicy)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, "Str0ng!Pass", "short"), ErrPasswordPolicy)

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, "Str0ng!Pass", "N3w!Password"))
	_, err := f.svc.Login(ctx, "alice", "N3w!Password", "10.0.0.1")
	assert.NoError(t, err)

	var events []string
	for _, n := range f.notifier.Sent() {
		events = append(events, n.Event)
	}
	assert.Contains(t, events, EventPasswordChanged)
}

func TestAuth_ResetPasswordUnlocks(t *testing.T) {
	f := newTestAuth(t)
	ctx := context.Background()
	u := createUser(t, f.svc.db, "alice", "Str0ng!Pass")
	require.NoError(t, f.svc.db.Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"account_locked":      true,
		"account_locked_time": f.clock.Now(),
		"failed_attempt":      5,
	}).Error)

	_, err := f.svc.ResetPassword(ctx, "alice@example.com", "N3w!Password")
	require.NoError(t, err)

	stored := reloadUser(t, f.svc.db, u.ID)
	assert.False(t, stored.AccountLocked)
	assert.Equal(t, 0, stored.FailedAttempt)

	_, err = f.svc.Login(ctx, "alice", "N3w!Password", "10.0.0.1")
	assert.NoError(t, err)

	_, err = f.svc.ResetPassword(ctx, "nobody", "N3w!Password")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
