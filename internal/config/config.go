// Package config loads the service configuration from a YAML file, creating
// it with defaults on first run, and applies MORANDI_* environment
// overrides on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "MORANDI_"

type Config struct {
	Listen    string `yaml:"listen"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// JWTSecret signs API bearer tokens. It is generated on first run when
	// left empty.
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	OccurrenceCap          int           `yaml:"occurrence_cap"`
	InvitationTTL          time.Duration `yaml:"invitation_ttl"`
	NotificationTTL        time.Duration `yaml:"notification_ttl"`
	InviteCodeLength       int           `yaml:"invite_code_length"`
	DefaultRejectionReason string        `yaml:"default_rejection_reason"`

	// SweepSchedule is a robfig/cron spec, e.g. "@every 15m" or "*/10 * * * *".
	SweepSchedule string `yaml:"sweep_schedule"`

	CORSOrigins []string `yaml:"cors_origins"`

	// JoinRateLimit is the number of join-by-code and token acceptance
	// attempts allowed per user per minute.
	JoinRateLimit int `yaml:"join_rate_limit"`
}

func Default() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		DBPath:                 "morandi.db",
		LogLevel:               "info",
		LogFormat:              "text",
		TokenTTL:               24 * time.Hour,
		OccurrenceCap:          100,
		InvitationTTL:          7 * 24 * time.Hour,
		NotificationTTL:        30 * 24 * time.Hour,
		InviteCodeLength:       8,
		DefaultRejectionReason: "not provided",
		SweepSchedule:          "@every 15m",
		CORSOrigins:            []string{},
		JoinRateLimit:          10,
	}
}

// Normalize replaces zero values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = d.TokenTTL
	}
	if c.OccurrenceCap <= 0 {
		c.OccurrenceCap = d.OccurrenceCap
	}
	if c.InvitationTTL <= 0 {
		c.InvitationTTL = d.InvitationTTL
	}
	if c.NotificationTTL <= 0 {
		c.NotificationTTL = d.NotificationTTL
	}
	if c.InviteCodeLength <= 0 {
		c.InviteCodeLength = d.InviteCodeLength
	}
	if strings.TrimSpace(c.DefaultRejectionReason) == "" {
		c.DefaultRejectionReason = d.DefaultRejectionReason
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = d.SweepSchedule
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
	if c.JoinRateLimit <= 0 {
		c.JoinRateLimit = d.JoinRateLimit
	}
}

func (c *Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if c.InviteCodeLength < 6 {
		return fmt.Errorf("invite_code_length must be at least 6, got %d", c.InviteCodeLength)
	}
	return nil
}

// Load reads the YAML file at path. A missing file is created with
// defaults. Environment overrides are applied last and are never written
// back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if cfg.JWTSecret, err = randomSecret(); err != nil {
			return nil, err
		}
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Normalize()
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".morandi-config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("%s%s: invalid positive integer %q", envPrefix, key, v)
			}
			*dst = n
		}
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return fmt.Errorf("%s%s: invalid duration %q", envPrefix, key, v)
			}
			*dst = d
		}
		return nil
	}

	str("LISTEN", &c.Listen)
	str("DB_PATH", &c.DBPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("JWT_SECRET", &c.JWTSecret)
	str("DEFAULT_REJECTION_REASON", &c.DefaultRejectionReason)
	str("SWEEP_SCHEDULE", &c.SweepSchedule)
	if v, ok := lookup(envPrefix + "CORS_ORIGINS"); ok && v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	for key, dst := range map[string]*int{
		"OCCURRENCE_CAP":     &c.OccurrenceCap,
		"INVITE_CODE_LENGTH": &c.InviteCodeLength,
		"JOIN_RATE_LIMIT":    &c.JoinRateLimit,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*time.Duration{
		"TOKEN_TTL":        &c.TokenTTL,
		"INVITATION_TTL":   &c.InvitationTTL,
		"NOTIFICATION_TTL": &c.NotificationTTL,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}
