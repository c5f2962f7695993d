package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	db := setupTestDB(t)
	st := setupStores(t, db)
	policy := NewPasswordPolicy(st.security)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
		contains string
	}{
		{"valid", "alice", "Str0ng!Pass", false, ""},
		{"too short", "alice", "S0!a", true, "at least 8"},
		{"no uppercase", "alice", "str0ng!pass", true, "uppercase"},
		{"no lowercase", "alice", "STR0NG!PASS", true, "lowercase"},
		{"no digit", "alice", "Strong!Pass", true, "digit"},
		{"no special", "alice", "Str0ngPass1", true, "special"},
		{"contains username", "alice", "Alice!2345x", true, "username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(ctx, tt.username, tt.password)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPasswordPolicy)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestPasswordPolicy_ReportsAllViolations(t *testing.T) {
	db := setupTestDB(t)
	st := setupStores(t, db)
	policy := NewPasswordPolicy(st.security)

	err := policy.Validate(context.Background(), "bob", "abc")
	var perr *PasswordPolicyError
	require.True(t, errors.As(err, &perr))
	assert.Len(t, perr.Violations, 4)
}

func TestPasswordPolicy_FollowsSettings(t *testing.T) {
	db := setupTestDB(t)
	st := setupStores(t, db)
	policy := NewPasswordPolicy(st.security)
	ctx := context.Background()

	setSetting(t, st.security, KeyPasswordRequireSpecial, "false")
	setSetting(t, st.security, KeyPasswordMinLength, "4")
	assert.NoError(t, policy.Validate(ctx, "bob", "Ab12"))

	setSetting(t, st.security, KeyPasswordMaxLength, "5")
	assert.Error(t, policy.Validate(ctx, "bob", "Ab1234"))
}

func TestPasswordPolicy_ExpiryFrom(t *testing.T) {
	db := setupTestDB(t)
	st := setupStores(t, db)
	policy := NewPasswordPolicy(st.security)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	exp := policy.ExpiryFrom(ctx, now)
	require.NotNil(t, exp)
	assert.Equal(t, now.AddDate(0, 0, 90), *exp)

	setSetting(t, st.security, KeyPasswordExpiryDays, "0")
	assert.Nil(t, policy.ExpiryFrom(ctx, now))
}

func TestBcryptHasher(t *testing.T) {
	h := testHasher()
	digest, err := h.Hash("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", digest)
	assert.True(t, h.Verify("secret", digest))
	assert.False(t, h.Verify("wrong", digest))
}

func TestPasswordPolicy_RejectsMoreThanBcryptBytes(t *testing.T) {
	db := setupTestDB(t)
	st := setupStores(t, db)
	policy := NewPasswordPolicy(st.security)
	ctx := context.Background()

	// 40 characters but 80 bytes, under the 128 character maxLength
	long := "Aa1!" + strings.Repeat("é", 36)
	err := policy.Validate(ctx, "bob", long)
	var perr *PasswordPolicyError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Violations, "must be at most 72 bytes")

	assert.NoError(t, policy.Validate(ctx, "bob", "Aa1!"+strings.Repeat("x", MaxPasswordBytes-4)))
}

func TestBcryptHasher_TooLongIsPolicyError(t *testing.T) {
	_, err := testHasher().Hash(strings.Repeat("a", MaxPasswordBytes+1))
	var perr *PasswordPolicyError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrPasswordPolicy)
}
