package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds the signing secret and expiry for pending second-factor
// tickets.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// SessionConfig holds session lifetime settings.
type SessionConfig struct {
	Expiry time.Duration `yaml:"expiry"`
}

// WebAuthnConfig holds relying-party settings for passkey ceremonies.
type WebAuthnConfig struct {
	RPDisplayName string   `yaml:"rp-display-name"`
	RPID          string   `yaml:"rp-id"`
	RPOrigins     []string `yaml:"rp-origins"`
}

// MailConfig holds outbound email settings. An empty host selects the
// log-only mailer.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	BaseURL  string `yaml:"base-url"`
}

// RateLimitConfig holds login throttle settings.
type RateLimitConfig struct {
	LoginPerMinute  int    `yaml:"login-per-minute"`
	VerifyPerMinute int    `yaml:"verify-per-minute"`
	RedisAddr       string `yaml:"redis-addr"`
	RedisPassword   string `yaml:"redis-password"`
	RedisDB         int    `yaml:"redis-db"`
	RedisPrefix     string `yaml:"redis-prefix"`
}

// fileConfig maps the full YAML layout.
type fileConfig struct {
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Session   SessionConfig   `yaml:"session"`
	WebAuthn  WebAuthnConfig  `yaml:"webauthn"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
}

func readFileConfig(configPath string) (fileConfig, bool) {
	var cfg fileConfig
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		return cfg, false
	}
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return fileConfig{}, false
	}
	return cfg, true
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry bounds how long a pending second-factor ticket stays
// valid; it matches the one-time code window.
const defaultJWTExpiry = 5 * time.Minute

// LoadJWTConfig loads pending-ticket settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	result := JWTConfig{Expiry: defaultJWTExpiry}

	if cfg, ok := readFileConfig(configPath); ok {
		result = cfg.JWT
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// defaultSessionExpiry is used when the config omits or invalidates the
// session lifetime.
const defaultSessionExpiry = 30 * 24 * time.Hour

// LoadSessionConfig loads session lifetime settings from the YAML config file.
func LoadSessionConfig(configPath string) (SessionConfig, error) {
	result := SessionConfig{Expiry: defaultSessionExpiry}

	if cfg, ok := readFileConfig(configPath); ok && cfg.Session.Expiry > 0 {
		result = cfg.Session
	}
	return result, nil
}

// LoadWebAuthnConfig loads relying-party settings with localhost defaults.
func LoadWebAuthnConfig(configPath string) (WebAuthnConfig, error) {
	result := WebAuthnConfig{
		RPDisplayName: "SafeCircle",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:3000"},
	}

	if cfg, ok := readFileConfig(configPath); ok {
		if strings.TrimSpace(cfg.WebAuthn.RPID) != "" {
			result.RPID = strings.TrimSpace(cfg.WebAuthn.RPID)
		}
		if strings.TrimSpace(cfg.WebAuthn.RPDisplayName) != "" {
			result.RPDisplayName = strings.TrimSpace(cfg.WebAuthn.RPDisplayName)
		}
		if len(cfg.WebAuthn.RPOrigins) > 0 {
			result.RPOrigins = cfg.WebAuthn.RPOrigins
		}
	}
	return result, nil
}

// LoadMailConfig loads outbound email settings from the YAML config file.
func LoadMailConfig(configPath string) (MailConfig, error) {
	var result MailConfig

	if cfg, ok := readFileConfig(configPath); ok {
		result = cfg.Mail
	}
	if strings.TrimSpace(result.From) == "" {
		result.From = "SafeCircle <notify@localhost>"
	}
	if strings.TrimSpace(result.BaseURL) == "" {
		result.BaseURL = "http://localhost:3000"
	}
	return result, nil
}

// Default attempt budgets for the login throttle.
const (
	defaultLoginPerMinute  = 10
	defaultVerifyPerMinute = 10
)

// LoadRateLimitConfig loads throttle settings from the YAML config file.
func LoadRateLimitConfig(configPath string) (RateLimitConfig, error) {
	result := RateLimitConfig{
		LoginPerMinute:  defaultLoginPerMinute,
		VerifyPerMinute: defaultVerifyPerMinute,
		RedisPrefix:     "authd:rl",
	}

	if cfg, ok := readFileConfig(configPath); ok {
		if cfg.RateLimit.LoginPerMinute > 0 {
			result.LoginPerMinute = cfg.RateLimit.LoginPerMinute
		}
		if cfg.RateLimit.VerifyPerMinute > 0 {
			result.VerifyPerMinute = cfg.RateLimit.VerifyPerMinute
		}
		result.RedisAddr = strings.TrimSpace(cfg.RateLimit.RedisAddr)
		result.RedisPassword = cfg.RateLimit.RedisPassword
		result.RedisDB = cfg.RateLimit.RedisDB
		if strings.TrimSpace(cfg.RateLimit.RedisPrefix) != "" {
			result.RedisPrefix = strings.TrimSpace(cfg.RateLimit.RedisPrefix)
		}
	}
	return result, nil
}
