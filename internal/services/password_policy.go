package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest input bcrypt accepts. It caps the policy's maxLength,
// which counts characters.
const MaxPasswordBytes = 72

var maxBytesViolation = fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes)

// PasswordHasher is the one-way credential hash.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// BcryptHasher hashes with bcrypt. A zero Cost means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", &PasswordPolicyError{Violations: []string{maxBytesViolation}}
		}
		return "", err
	}
	return string(b), nil
}

func (h BcryptHasher) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// PasswordPolicyError lists every rule a candidate password broke.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return ErrPasswordPolicy.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *PasswordPolicyError) Unwrap() error { return ErrPasswordPolicy }

// PasswordPolicy validates passwords against the live security settings.
type PasswordPolicy struct {
	settings *SettingsStore
}

func NewPasswordPolicy(settings *SettingsStore) *PasswordPolicy {
	return &PasswordPolicy{settings: settings}
}

// Validate returns nil or a *PasswordPolicyError.
func (p *PasswordPolicy) Validate(ctx context.Context, username, password string) error {
	var v []string
	n := utf8.RuneCountInString(password)

	minLen := p.settings.GetInt(ctx, KeyPasswordMinLength)
	maxLen := p.settings.GetInt(ctx, KeyPasswordMaxLength)
	if n < minLen {
		v = append(v, fmt.Sprintf("must be at least %d characters", minLen))
	}
	if maxLen > 0 && n > maxLen {
		v = append(v, fmt.Sprintf("must be at most %d characters", maxLen))
	}
	if len(password) > MaxPasswordBytes {
		v = append(v, maxBytesViolation)
	}

	special := p.settings.GetString(ctx, KeyPasswordSpecialCharacters)
	var upper, lower, digit, spec bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
		if strings.ContainsRune(special, r) {
			spec = true
		}
	}
	if p.settings.GetBool(ctx, KeyPasswordRequireUppercase) && !upper {
		v = append(v, "must contain an uppercase letter")
	}
	if p.settings.GetBool(ctx, KeyPasswordRequireLowercase) && !lower {
		v = append(v, "must contain a lowercase letter")
	}
	if p.settings.GetBool(ctx, KeyPasswordRequireDigit) && !digit {
		v = append(v, "must contain a digit")
	}
	if p.settings.GetBool(ctx, KeyPasswordRequireSpecial) && !spec {
		v = append(v, "must contain a special character")
	}
	if p.settings.GetBool(ctx, KeyPasswordDisallowUsername) && username != "" &&
		strings.Contains(strings.ToLower(password), strings.ToLower(username)) {
		v = append(v, "must not contain the username")
	}

	if len(v) > 0 {
		return &PasswordPolicyError{Violations: v}
	}
	return nil
}

// ExpiryFrom returns when a password set at now expires, or nil when expiry is disabled.
func (p *PasswordPolicy) ExpiryFrom(ctx context.Context, now time.Time) *time.Time {
	days := p.settings.GetInt(ctx, KeyPasswordExpiryDays)
	if days <= 0 {
		return nil
	}
	t := now.AddDate(0, 0, days)
	return &t
}
