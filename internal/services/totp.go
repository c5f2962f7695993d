package services

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTP generates and checks RFC 6238 codes (HMAC-SHA1).
type TOTP struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// GenerateTOTPSecret returns a random base32 secret.
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return totpEncoding.EncodeToString(raw), nil
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	raw, err := totpEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, errors.New("invalid totp secret")
	}
	return raw, nil
}

// ProvisionURI is the otpauth:// URI authenticator apps import, usually as a QR code.
func (t TOTP) ProvisionURI(secret, account string) string {
	label := url.PathEscape(t.Issuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", t.Issuer)
	v.Set("period", strconv.Itoa(t.Period))
	v.Set("digits", strconv.Itoa(t.Digits))
	v.Set("algorithm", "SHA1")
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Code returns the code for the step containing now.
func (t TOTP) Code(secret string, now time.Time) (string, error) {
	raw, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(raw, now.Unix()/int64(t.Period), t.Digits), nil
}

// Verify checks code against the steps within Skew of now and returns the matching
// counter, so callers can refuse a counter that was already used.
func (t TOTP) Verify(secret, code string, now time.Time) (bool, int64) {
	code = strings.TrimSpace(code)
	if t.Period <= 0 || len(code) != t.Digits || !isDigits(code) {
		return false, 0
	}
	raw, err := decodeTOTPSecret(secret)
	if err != nil {
		return false, 0
	}
	base := now.Unix() / int64(t.Period)
	for step := -t.Skew; step <= t.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(raw, counter, t.Digits)), []byte(code)) == 1 {
			return true, counter
		}
	}
	return false, 0
}

func hotp(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		int(sum[offset+1])<<16 |
		int(sum[offset+2])<<8 |
		int(sum[offset+3])

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateBackupCode returns a random code of n characters, grouped with a dash in the middle.
func generateBackupCode(n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < n; i++ {
		if i == n/2 && n >= 4 {
			b.WriteByte('-')
		}
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// canonicalBackupCode strips grouping and case so users can type codes loosely.
func canonicalBackupCode(code string) string {
	r := strings.NewReplacer("-", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(code)))
}

func backupCodeHash(userID uint, code string) string {
	sum := sha256.Sum256([]byte(strconv.FormatUint(uint64(userID), 10) + "\x00" + canonicalBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

func looksLikeBackupCode(code string) bool {
	c := canonicalBackupCode(code)
	if c == "" || isDigits(c) {
		return false
	}
	for _, r := range c {
		if !strings.ContainsRune(backupCodeAlphabet, r) {
			return false
		}
	}
	return true
}
