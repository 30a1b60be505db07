package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	CredentialBackendPostgres = "postgres"
	CredentialBackendSQLite   = "sqlite"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password", "api-key",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL"`

	APIKey          string `env:"API_KEY,required"`
	RateLimitPerMin int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`

	// Empty accepts websocket upgrades from any origin.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	DefaultSessionID   string `env:"DEFAULT_SESSION_ID" envDefault:"default"`
	DefaultCountryCode string `env:"DEFAULT_COUNTRY_CODE" envDefault:"62"`
	DeviceName         string `env:"DEVICE_NAME" envDefault:"WA Relay"`

	CredentialBackend    string `env:"CREDENTIAL_BACKEND" envDefault:"postgres"`
	CredentialSQLitePath string `env:"CREDENTIAL_SQLITE_PATH" envDefault:"./data/credentials.db"`

	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY" envDefault:"3s"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"0"`
	BroadcastDelay       time.Duration `env:"BROADCAST_DELAY" envDefault:"1s"`
	RestoreSessions      bool          `env:"RESTORE_SESSIONS" envDefault:"true"`

	MaxUploadMB          int `env:"MAX_UPLOAD_MB" envDefault:"16"`
	MessageRetentionDays int `env:"MESSAGE_RETENTION_DAYS" envDefault:"0"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// MessageRetention returns zero when retention is disabled.
func (c *Config) MessageRetention() time.Duration {
	return time.Duration(c.MessageRetentionDays) * 24 * time.Hour
}

func (c *Config) Validate(isProduction bool) error {
	switch c.CredentialBackend {
	case CredentialBackendPostgres, CredentialBackendSQLite:
	default:
		return fmt.Errorf("CREDENTIAL_BACKEND must be %q or %q, got %q",
			CredentialBackendPostgres, CredentialBackendSQLite, c.CredentialBackend)
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be positive")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if strings.TrimSpace(c.DefaultSessionID) == "" {
		return fmt.Errorf("DEFAULT_SESSION_ID must not be empty")
	}

	if isProduction {
		if err := validateSecret("API_KEY", c.APIKey); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: events will not fan out across instances")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
