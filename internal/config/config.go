package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/healthqr/healthqr/internal/platform/crypto"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DATABASE_URL is optional: when empty the service runs on the
	// in-memory repositories.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	EncryptionKey        string `mapstructure:"ENCRYPTION_KEY"`
	EncryptionKeyVersion int    `mapstructure:"ENCRYPTION_KEY_VERSION"`
	// EncryptionPreviousKeys is a comma-separated list of version:hexkey
	// pairs, e.g. "1:aabb...,2:ccdd...". Old versions stay decryptable
	// while rotation is in flight.
	EncryptionPreviousKeys string `mapstructure:"ENCRYPTION_PREVIOUS_KEYS"`
	KeyRotationEnabled     bool   `mapstructure:"KEY_ROTATION_ENABLED"`

	TokenSigningKey         string `mapstructure:"TOKEN_SIGNING_KEY"`
	OpaqueTokenTTLSeconds   int    `mapstructure:"OPAQUE_TOKEN_TTL_SECONDS"`
	ClaimTokenTTLSeconds    int    `mapstructure:"CLAIM_TOKEN_TTL_SECONDS"`
	GrantDefaultWindowHours int    `mapstructure:"GRANT_DEFAULT_WINDOW_HOURS"`
	SweepIntervalSeconds    int    `mapstructure:"SWEEP_INTERVAL_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("ENCRYPTION_KEY_VERSION", 1)
	v.SetDefault("OPAQUE_TOKEN_TTL_SECONDS", 3600)
	v.SetDefault("CLAIM_TOKEN_TTL_SECONDS", 900)
	v.SetDefault("GRANT_DEFAULT_WINDOW_HOURS", 24)
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 300)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("ENCRYPTION_KEY")
	v.BindEnv("ENCRYPTION_KEY_VERSION")
	v.BindEnv("ENCRYPTION_PREVIOUS_KEYS")
	v.BindEnv("KEY_ROTATION_ENABLED")
	v.BindEnv("TOKEN_SIGNING_KEY")
	v.BindEnv("OPAQUE_TOKEN_TTL_SECONDS")
	v.BindEnv("CLAIM_TOKEN_TTL_SECONDS")
	v.BindEnv("GRANT_DEFAULT_WINDOW_HOURS")
	v.BindEnv("SWEEP_INTERVAL_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) OpaqueTokenTTL() time.Duration {
	return time.Duration(c.OpaqueTokenTTLSeconds) * time.Second
}

func (c *Config) ClaimTokenTTL() time.Duration {
	return time.Duration(c.ClaimTokenTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// PreviousKeys parses ENCRYPTION_PREVIOUS_KEYS into a version-to-key map.
func (c *Config) PreviousKeys() (map[int]string, error) {
	keys := make(map[int]string)
	if c.EncryptionPreviousKeys == "" {
		return keys, nil
	}

	for _, pair := range strings.Split(c.EncryptionPreviousKeys, ",") {
		version, hexKey, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("ENCRYPTION_PREVIOUS_KEYS entry %q is not version:hexkey", pair)
		}
		n, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_PREVIOUS_KEYS version %q: %w", version, err)
		}
		keys[n] = hexKey
	}
	return keys, nil
}

// KeyRingConfig assembles the key ring configuration from the encryption
// settings. Validate should have passed first.
func (c *Config) KeyRingConfig() (crypto.KeyRingConfig, error) {
	previous, err := c.PreviousKeys()
	if err != nil {
		return crypto.KeyRingConfig{}, err
	}
	return crypto.KeyRingConfig{
		CurrentKey:      c.EncryptionKey,
		CurrentVersion:  c.EncryptionKeyVersion,
		PreviousKeys:    previous,
		RotationEnabled: c.KeyRotationEnabled,
	}, nil
}

// Validate checks that the configuration is safe to run. In production the
// encryption and token signing keys are required; any configured encryption
// key must be a valid 64-character hex string (32 bytes when decoded).
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in production")
		}
		if c.TokenSigningKey == "" {
			return fmt.Errorf("TOKEN_SIGNING_KEY is required in production")
		}
	}

	if c.EncryptionKey != "" {
		if err := validateHexKey(c.EncryptionKey); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY %w", err)
		}
		if c.EncryptionKeyVersion < 1 {
			return fmt.Errorf("ENCRYPTION_KEY_VERSION must be >= 1, got %d", c.EncryptionKeyVersion)
		}
	}

	previous, err := c.PreviousKeys()
	if err != nil {
		return err
	}
	for version, hexKey := range previous {
		if err := validateHexKey(hexKey); err != nil {
			return fmt.Errorf("ENCRYPTION_PREVIOUS_KEYS v%d %w", version, err)
		}
		if version >= c.EncryptionKeyVersion {
			return fmt.Errorf("ENCRYPTION_PREVIOUS_KEYS v%d must be older than ENCRYPTION_KEY_VERSION %d", version, c.EncryptionKeyVersion)
		}
	}

	if c.OpaqueTokenTTLSeconds <= 0 {
		return fmt.Errorf("OPAQUE_TOKEN_TTL_SECONDS must be positive, got %d", c.OpaqueTokenTTLSeconds)
	}
	if c.ClaimTokenTTLSeconds <= 0 {
		return fmt.Errorf("CLAIM_TOKEN_TTL_SECONDS must be positive, got %d", c.ClaimTokenTTLSeconds)
	}
	if c.GrantDefaultWindowHours <= 0 {
		return fmt.Errorf("GRANT_DEFAULT_WINDOW_HOURS must be positive, got %d", c.GrantDefaultWindowHours)
	}

	return nil
}

func validateHexKey(key string) error {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("must be 32 bytes (64 hex chars), got %d bytes", len(raw))
	}
	return nil
}
