package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hnrobert/lockr/internal/auth"
	"github.com/hnrobert/lockr/internal/invite"
	"github.com/hnrobert/lockr/internal/vault"
)

type RegistrationMode string

const (
	RegistrationClosed RegistrationMode = "closed"
	RegistrationInvite RegistrationMode = "invite"
	RegistrationOpen   RegistrationMode = "open"

	defaultRegistration = RegistrationInvite
)

func (m RegistrationMode) Valid() bool {
	return m == RegistrationClosed || m == RegistrationInvite || m == RegistrationOpen
}

// Config is the lockrd configuration, read from YAML and overridden by LOCKR_* variables.
type Config struct {
	Listen           string           `yaml:"listen"`
	VaultPath        string           `yaml:"vault_path"`
	InvitesPath      string           `yaml:"invites_path"`
	Secret           string           `yaml:"secret"`
	JWTSecret        string           `yaml:"jwt_secret"`
	TokenTTL         time.Duration    `yaml:"token_ttl"`
	AdminUser        string           `yaml:"admin_user"`
	AdminHash        string           `yaml:"admin_hash"`
	LogDir           string           `yaml:"log_dir"`
	RegistrationMode RegistrationMode `yaml:"registration_mode"`
}

const (
	defaultListen    = ":14393"
	defaultTokenTTL  = 24 * time.Hour
	defaultAdminUser = "admin"

	minSecretLen = 16
)

var (
	ErrSecretRequired = errors.New("secret is required")
	ErrSecretTooShort = errors.New("secret must be at least 16 bytes")
	ErrInvalidTTL     = errors.New("token_ttl must be positive")
	ErrInvalidMode    = errors.New("invalid registration mode")
)

func Default() Config {
	return Config{
		Listen:           defaultListen,
		VaultPath:        vault.DefaultPath(),
		InvitesPath:      invite.DefaultPath(),
		TokenTTL:         defaultTokenTTL,
		AdminUser:        defaultAdminUser,
		RegistrationMode: defaultRegistration,
	}
}

func DefaultPath() string {
	return filepath.Join("/lockr_data", "lockr.yaml")
}

// PathFromEnv returns LOCKR_CONFIG or the default path.
func PathFromEnv() string {
	return getEnv("LOCKR_CONFIG", DefaultPath())
}

// Load reads path (a missing file is fine), applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides c with any LOCKR_* variables that are set.
func (c *Config) ApplyEnv() error {
	ttl, err := getDuration("LOCKR_TOKEN_TTL", c.TokenTTL)
	if err != nil {
		return err
	}
	c.TokenTTL = ttl
	c.Listen = getEnv("LOCKR_LISTEN", c.Listen)
	c.VaultPath = getEnv("LOCKR_FILE", c.VaultPath)
	c.InvitesPath = getEnv("LOCKR_INVITES_FILE", c.InvitesPath)
	c.Secret = getEnv("LOCKR_SECRET", c.Secret)
	c.JWTSecret = getEnv("LOCKR_JWT_SECRET", c.JWTSecret)
	c.AdminUser = getEnv("LOCKR_ADMIN_USER", c.AdminUser)
	c.AdminHash = getEnv("LOCKR_ADMIN_HASH", c.AdminHash)
	c.LogDir = getEnv("LOCKR_LOG_DIR", c.LogDir)
	c.RegistrationMode = RegistrationMode(getEnv("LOCKR_REGISTRATION_MODE", string(c.RegistrationMode)))
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.Secret == "":
		return ErrSecretRequired
	case len(c.Secret) < minSecretLen:
		return ErrSecretTooShort
	case c.TokenTTL <= 0:
		return ErrInvalidTTL
	case c.JWTSecret != "" && !validJWTSecret(c.JWTSecret):
		return auth.ErrShortJWTSecret
	case c.VaultPath == "":
		return errors.New("vault_path is required")
	case !c.RegistrationMode.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.RegistrationMode)
	case c.RegistrationMode == RegistrationInvite && c.InvitesPath == "":
		return errors.New("invites_path is required for invite registration")
	}
	return nil
}

// Save writes c as YAML to path.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func validJWTSecret(text string) bool {
	_, err := auth.DecodeSecret(text)
	return err == nil
}
