package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType is carried in every token and checked by every consumer.
type TokenType string

const (
	TokenAccess       TokenType = "ACCESS"
	TokenRefresh      TokenType = "REFRESH"
	TokenMFATemp      TokenType = "MFA_TEMP"
	TokenRegistration TokenType = "REGISTRATION"
)

var tokenLifetimeKeys = map[TokenType]string{
	TokenAccess:       KeyAccessTokenExpirationMs,
	TokenRefresh:      KeyRefreshTokenExpirationMs,
	TokenMFATemp:      KeyMFATempTokenExpirationMs,
	TokenRegistration: KeyRegistrationTokenExpirationMs,
}

// TokenClaims are the JWT claims issued by TokenService. Subject is the username.
type TokenClaims struct {
	TokenType TokenType `json:"tokenType"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed token and its expiry instant.
type IssuedToken struct {
	Token     string    `json:"token"`
	ID        string    `json:"-"`
	Type      TokenType `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenService issues and validates HS256 tokens. Lifetimes are read from settings per issue.
type TokenService struct {
	secret   []byte
	issuer   string
	settings *SettingsStore
	Now      func() time.Time
}

func NewTokenService(secret, issuer string, settings *SettingsStore) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: issuer, settings: settings, Now: time.Now}
}

// Lifetime returns the configured lifetime of t.
func (s *TokenService) Lifetime(ctx context.Context, t TokenType) (time.Duration, error) {
	key, ok := tokenLifetimeKeys[t]
	if !ok {
		return 0, fmt.Errorf("%w: unknown token type %q", ErrValidation, t)
	}
	ms := s.settings.GetLong(ctx, key)
	if ms <= 0 {
		d, _ := s.settings.Definition(key)
		ms, _ = strconv.ParseInt(d.Default, 10, 64)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Issue signs a token of type t for subject.
func (s *TokenService) Issue(ctx context.Context, subject string, t TokenType) (IssuedToken, error) {
	ttl, err := s.Lifetime(ctx, t)
	if err != nil {
		return IssuedToken{}, err
	}
	now := s.Now()
	id := uuid.New().String()
	exp := now.Add(ttl)
	claims := TokenClaims{
		TokenType: t,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        id,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", t, err)
	}
	return IssuedToken{Token: signed, ID: id, Type: t, ExpiresAt: exp}, nil
}

// Validate checks signature, issuer and expiry, then that the token is of the expected
// type. A well-formed token of another type yields ErrInvalidTokenType.
func (s *TokenService) Validate(token string, expected TokenType) (*TokenClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
	)
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expected {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}
