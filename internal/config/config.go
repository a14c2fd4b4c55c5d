package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Guard    GuardConfig
	OAuth    OAuthConfig
	Mail     MailConfig
}

type ServerConfig struct {
	Host        string   `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port        int      `env:"SERVER_PORT" envDefault:"8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RPS         float64  `env:"API_RPS" envDefault:"100"`
	Burst       int      `env:"API_BURST" envDefault:"200"`
}

type DatabaseConfig struct {
	URL            string        `env:"DATABASE_URL"`
	MaxConns       int           `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns       int           `env:"DB_MIN_CONNS" envDefault:"5"`
	MaxConnIdle    time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"30m"`
	HealthCheck    time.Duration `env:"DB_HEALTH_CHECK" envDefault:"1m"`
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
	AppName        string        `env:"DB_APP_NAME" envDefault:"agroplatform"`
}

type RedisConfig struct {
	Addr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password    string        `env:"REDIS_PASSWORD"`
	DB          int           `env:"REDIS_DB" envDefault:"0"`
	PingTimeout time.Duration `env:"REDIS_PING_TIMEOUT" envDefault:"2s"`
}

type AuthConfig struct {
	JWTSecret          string        `env:"JWT_SECRET"`
	Issuer             string        `env:"JWT_ISSUER" envDefault:"agroplatform"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	InviteTokenTTL     time.Duration `env:"INVITE_TOKEN_TTL" envDefault:"72h"`
	ResetTokenTTL      time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	OAuthStateTTL      time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	ExchangeCodeTTL    time.Duration `env:"OAUTH_EXCHANGE_TTL" envDefault:"60s"`
	PermissionCacheTTL time.Duration `env:"PERMISSION_CACHE_TTL" envDefault:"5m"`
	AppURL             string        `env:"APP_URL" envDefault:"http://localhost:3000"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"12"`
}

type GuardConfig struct {
	MaxAttempts     int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	Window          time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`
	MaxFailures     int           `env:"LOGIN_MAX_FAILURES" envDefault:"5"`
	FailureWindow   time.Duration `env:"LOGIN_FAILURE_WINDOW" envDefault:"15m"`
	LockoutDuration time.Duration `env:"LOGIN_LOCKOUT" envDefault:"15m"`
}

type OAuthConfig struct {
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`
}

// Enabled reports whether provider sign-in is configured.
func (c OAuthConfig) Enabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

type MailConfig struct {
	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	From         string `env:"MAIL_FROM" envDefault:"no-reply@agroplatform.local"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	if c.Guard.MaxAttempts <= 0 || c.Guard.MaxFailures <= 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS and LOGIN_MAX_FAILURES must be positive")
	}
	return nil
}
