package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
// Runtime-tunable security policy is not part of it; that lives in the settings tables.
type Config struct {
	Environment      string
	HTTPPort         string
	DatabaseDriver   string
	DatabasePath     string
	JWTSecret        string
	JWTIssuer        string
	NotifyURL        string
	LogDir           string
	Debug            bool
	SettingsCacheTTL time.Duration
	IDSalt           string
	TrustedProxies   []string
}

// ErrMissingJWTSecret is returned outside development when no signing secret is configured.
var ErrMissingJWTSecret = errors.New("ITINERA_JWT_SECRET is required outside development")

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:      getEnv("ITINERA_ENV", "development"),
		HTTPPort:         getEnv("ITINERA_HTTP_PORT", "8080"),
		DatabaseDriver:   strings.ToLower(getEnv("ITINERA_DB_DRIVER", "sqlite")),
		DatabasePath:     getEnv("ITINERA_DB_PATH", filepath.Join("data", "itinera.db")),
		JWTSecret:        os.Getenv("ITINERA_JWT_SECRET"),
		JWTIssuer:        getEnv("ITINERA_JWT_ISSUER", "itinera"),
		NotifyURL:        os.Getenv("ITINERA_NOTIFY_URL"),
		LogDir:           getEnv("ITINERA_LOG_DIR", filepath.Join("data", "logs")),
		Debug:            getEnvBool("ITINERA_DEBUG", false),
		SettingsCacheTTL: getEnvDuration("ITINERA_SETTINGS_CACHE_TTL", 30*time.Second),
		IDSalt:           getEnv("ITINERA_ID_SALT", "itinera"),
		TrustedProxies:   splitList(os.Getenv("ITINERA_TRUSTED_PROXIES")),
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return Config{}, ErrMissingJWTSecret
		}
		secret, err := randomSecret()
		if err != nil {
			return Config{}, fmt.Errorf("generate development jwt secret: %w", err)
		}
		cfg.JWTSecret = secret
	}

	if cfg.DatabaseDriver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return Config{}, fmt.Errorf("ensure data directory: %w", err)
		}
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return v == "1"
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
