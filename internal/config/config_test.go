package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDatabaseDSNFromFile(t *testing.T) {
	path := writeConfig(t, "database-dsn: file:auth.db\n")

	dsn, err := LoadDatabaseDSN(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if dsn != "file:auth.db" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestLoadDatabaseDSNNested(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: postgres://localhost/auth\n")

	dsn, err := LoadDatabaseDSN(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if dsn != "postgres://localhost/auth" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestLoadDatabaseDSNEnvOverride(t *testing.T) {
	path := writeConfig(t, "database-dsn: file:auth.db\n")
	t.Setenv(EnvDBConnection, "postgres://env/auth")

	dsn, err := LoadDatabaseDSN(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if dsn != "postgres://env/auth" {
		t.Fatalf("expected the environment to win, got %q", dsn)
	}
}

func TestLoadDatabaseDSNMissing(t *testing.T) {
	path := writeConfig(t, "session:\n  expiry: 1h\n")

	if _, err := LoadDatabaseDSN(path); err == nil {
		t.Fatalf("expected an error for a missing dsn")
	}
}

func TestLoadJWTConfigDefaultsAndEnv(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: file-secret\n")

	cfg, err := LoadJWTConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Secret != "file-secret" {
		t.Fatalf("unexpected secret")
	}

	t.Setenv(EnvJWTSecret, "env-secret")
	t.Setenv(EnvJWTExpiry, "2m")
	cfg, err = LoadJWTConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Secret != "env-secret" || cfg.Expiry != 2*time.Minute {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
}

func TestLoadSessionConfigDefault(t *testing.T) {
	path := writeConfig(t, "database-dsn: file:auth.db\n")

	cfg, err := LoadSessionConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Expiry != 30*24*time.Hour {
		t.Fatalf("unexpected default expiry %v", cfg.Expiry)
	}
}

func TestLoadWebAuthnConfigDefaults(t *testing.T) {
	cfg, err := LoadWebAuthnConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPID != "localhost" || len(cfg.RPOrigins) == 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadRateLimitConfig(t *testing.T) {
	path := writeConfig(t, "rate-limit:\n  login-per-minute: 5\n  redis-addr: 127.0.0.1:6379\n")

	cfg, err := LoadRateLimitConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LoginPerMinute != 5 {
		t.Fatalf("unexpected login limit %d", cfg.LoginPerMinute)
	}
	if cfg.VerifyPerMinute <= 0 {
		t.Fatalf("expected a default verify limit")
	}
	if cfg.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.RedisAddr)
	}
}

func TestResolveConfigPathDefault(t *testing.T) {
	resolved := ResolveConfigPath("")
	if resolved == "" || !filepath.IsAbs(resolved) {
		t.Fatalf("expected an absolute default path, got %q", resolved)
	}
}
