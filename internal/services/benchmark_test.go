package services

import (
	"testing"
	"time"

	"github.com/itinera/backend/internal/models"
)

func BenchmarkTOTPVerify(b *testing.B) {
	totp := TOTP{Issuer: "Itinera", Digits: 6, Period: 30, Skew: 1}
	secret, err := GenerateTOTPSecret()
	if err != nil {
		b.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	code, err := totp.Code(secret, now)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		totp.Verify(secret, code, now)
	}
}

func BenchmarkBackupCodeHash(b *testing.B) {
	code, err := generateBackupCode(10)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backupCodeHash(42, code)
	}
}

func BenchmarkPermissionSetAllows(b *testing.B) {
	u := &models.User{Roles: []models.Role{{
		Name:   RoleUser,
		Active: true,
		Permissions: []models.Permission{
			{ActionCode: "read", Resource: "Itinerary", Active: true},
			{ActionCode: "create", Resource: "Booking", Active: true},
			{ActionCode: "read", Resource: "Booking", Active: true},
		},
	}}}
	perms := models.EffectivePermissions(u)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		perms.Allows("read", "Booking")
	}
}
