package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string   `mapstructure:"PORT"`
	Env                     string   `mapstructure:"ENV"`
	DatabaseURL             string   `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer              string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL             string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience            string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins             []string `mapstructure:"CORS_ORIGINS"`
	CredentialEncryptionKey string   `mapstructure:"CREDENTIAL_ENCRYPTION_KEY"`
	SyncSharedSecret        string   `mapstructure:"SYNC_SHARED_SECRET"`
	SyncPageSize            int      `mapstructure:"SYNC_PAGE_SIZE"`
	SyncAdapterTimeoutSecs  int      `mapstructure:"SYNC_ADAPTER_TIMEOUT_SECONDS"`
	RateLimitRPS            float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst          int      `mapstructure:"RATE_LIMIT_BURST"`
	MigrationsDir           string   `mapstructure:"MIGRATIONS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SYNC_PAGE_SIZE", 200)
	v.SetDefault("SYNC_ADAPTER_TIMEOUT_SECONDS", 30)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("CREDENTIAL_ENCRYPTION_KEY")
	v.BindEnv("SYNC_SHARED_SECRET")
	v.BindEnv("SYNC_PAGE_SIZE")
	v.BindEnv("SYNC_ADAPTER_TIMEOUT_SECONDS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("MIGRATIONS_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production the
// credential encryption key is required and must be a valid 64-character hex
// string (32 bytes when decoded), and the scheduler trigger secret must be set
// so the sync surface is never left open.
func (c *Config) Validate() error {
	if c.IsProduction() && c.CredentialEncryptionKey == "" {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is required in production")
	}
	if c.CredentialEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.CredentialEncryptionKey)
		if err != nil {
			return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.IsProduction() && c.SyncSharedSecret == "" {
		return fmt.Errorf("SYNC_SHARED_SECRET is required in production")
	}
	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if c.SyncPageSize <= 0 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be positive, got %d", c.SyncPageSize)
	}
	if c.SyncAdapterTimeoutSecs <= 0 {
		return fmt.Errorf("SYNC_ADAPTER_TIMEOUT_SECONDS must be positive, got %d", c.SyncAdapterTimeoutSecs)
	}

	return nil
}

// EncryptionKey decodes the configured credential encryption key. Returns nil
// when no key is configured (development only).
func (c *Config) EncryptionKey() []byte {
	if c.CredentialEncryptionKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.CredentialEncryptionKey)
	if err != nil {
		return nil
	}
	return key
}
