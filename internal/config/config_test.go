package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "morandi.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OccurrenceCap != 100 || cfg.InvitationTTL != 168*time.Hour || cfg.SweepSchedule != "@every 15m" {
		t.Errorf("defaults = %+v", cfg)
	}
	if len(cfg.JWTSecret) != 64 {
		t.Errorf("generated secret length = %d, want 64", len(cfg.JWTSecret))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate defaults: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	// A second load reads the same secret back.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.JWTSecret != cfg.JWTSecret {
		t.Error("secret changed between loads")
	}
	if again.InvitationTTL != cfg.InvitationTTL {
		t.Errorf("invitation ttl = %v, want %v", again.InvitationTTL, cfg.InvitationTTL)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "morandi.yaml")
	body := "listen: \":9000\"\noccurrence_cap: 250\ninvitation_ttl: 48h\ncors_origins:\n  - https://app.example.com\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.OccurrenceCap != 250 || cfg.InvitationTTL != 48*time.Hour {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("cors origins = %v", cfg.CORSOrigins)
	}
	if cfg.NotificationTTL != 720*time.Hour || cfg.DefaultRejectionReason != "not provided" {
		t.Errorf("defaults not filled: %+v", cfg)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("validate passed without a jwt secret")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "morandi.yaml")
	if err := os.WriteFile(path, []byte("listen: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"MORANDI_LISTEN":         ":7000",
		"MORANDI_JWT_SECRET":     strings.Repeat("s", 40),
		"MORANDI_OCCURRENCE_CAP": "20",
		"MORANDI_INVITATION_TTL": "2h",
		"MORANDI_CORS_ORIGINS":   "https://a.example.com, https://b.example.com,",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Listen != ":7000" || cfg.OccurrenceCap != 20 || cfg.InvitationTTL != 2*time.Hour {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("cors origins = %v", cfg.CORSOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}

	for key, bad := range map[string]string{
		"MORANDI_OCCURRENCE_CAP":  "lots",
		"MORANDI_JOIN_RATE_LIMIT": "-1",
		"MORANDI_TOKEN_TTL":       "forever",
	} {
		cfg := Default()
		err := cfg.applyEnv(func(k string) (string, bool) {
			if k == key {
				return bad, true
			}
			return "", false
		})
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("%s=%q err = %v, want error naming the key", key, bad, err)
		}
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "morandi.yaml")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Setenv("MORANDI_DB_PATH", "/tmp/other.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("db path = %q, want env override", cfg.DBPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "/tmp/other.db") {
		t.Error("env override was written to the file")
	}
}
