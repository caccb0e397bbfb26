package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/carebook/carebook/internal/platform/calendar"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	StoreBackend   string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	AppUTCOffset   string        `mapstructure:"APP_UTC_OFFSET"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	// Telemetry
	ServiceName  string `mapstructure:"SERVICE_NAME"`
	OTelEndpoint string `mapstructure:"OTEL_ENDPOINT"`

	// Booking write path
	BookingTxTimeout     time.Duration `mapstructure:"BOOKING_TX_TIMEOUT"`
	ModificationLeadTime time.Duration `mapstructure:"MODIFICATION_LEAD_TIME"`
	LockBackend          string        `mapstructure:"LOCK_BACKEND"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	LockTTL              time.Duration `mapstructure:"LOCK_TTL"`

	// Auth
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// Meeting provisioning
	MeetingAPIURL    string `mapstructure:"MEETING_API_URL"`
	MeetingAPIKey    string `mapstructure:"MEETING_API_KEY"`
	MeetingAPISecret string `mapstructure:"MEETING_API_SECRET"`

	// Notifications
	EmailProvider   string `mapstructure:"EMAIL_PROVIDER"`
	EmailFrom       string `mapstructure:"EMAIL_FROM"`
	EmailFromName   string `mapstructure:"EMAIL_FROM_NAME"`
	SendGridAPIKey  string `mapstructure:"SENDGRID_API_KEY"`
	AWSRegion       string `mapstructure:"AWS_REGION"`
	NotifyQueueSize int    `mapstructure:"NOTIFY_QUEUE_SIZE"`
	NotifyWorkers   int    `mapstructure:"NOTIFY_WORKERS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"APP_UTC_OFFSET", "REQUEST_TIMEOUT", "CORS_ORIGINS", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"SERVICE_NAME", "OTEL_ENDPOINT",
	"BOOKING_TX_TIMEOUT", "MODIFICATION_LEAD_TIME", "LOCK_BACKEND", "REDIS_URL", "LOCK_TTL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"MEETING_API_URL", "MEETING_API_KEY", "MEETING_API_SECRET",
	"EMAIL_PROVIDER", "EMAIL_FROM", "EMAIL_FROM_NAME", "SENDGRID_API_KEY", "AWS_REGION",
	"NOTIFY_QUEUE_SIZE", "NOTIFY_WORKERS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("APP_UTC_OFFSET", "+00:00")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("SERVICE_NAME", "carebook")
	v.SetDefault("BOOKING_TX_TIMEOUT", "5s")
	v.SetDefault("MODIFICATION_LEAD_TIME", "4h")
	v.SetDefault("LOCK_BACKEND", "memory")
	v.SetDefault("LOCK_TTL", "10s")
	v.SetDefault("EMAIL_PROVIDER", "log")
	v.SetDefault("EMAIL_FROM_NAME", "Carebook")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 256)
	v.SetDefault("NOTIFY_WORKERS", 2)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in development mode: unauthenticated requests act as admin")
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

// Calendar builds the application calendar from APP_UTC_OFFSET.
func (c *Config) Calendar() (*calendar.Calendar, error) {
	return calendar.New(c.AppUTCOffset)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be \"postgres\" or \"memory\", got %q", c.StoreBackend)
	}
	if c.IsProduction() && c.StoreBackend == "memory" {
		return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
	}

	switch c.LockBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND is \"redis\"")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be \"memory\" or \"redis\", got %q", c.LockBackend)
	}

	if _, err := c.Calendar(); err != nil {
		return fmt.Errorf("APP_UTC_OFFSET: %w", err)
	}
	if c.BookingTxTimeout <= 0 {
		return fmt.Errorf("BOOKING_TX_TIMEOUT must be positive")
	}
	if c.ModificationLeadTime < 0 {
		return fmt.Errorf("MODIFICATION_LEAD_TIME must not be negative")
	}
	if c.LockTTL < c.BookingTxTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must not be shorter than BOOKING_TX_TIMEOUT (%s)", c.LockTTL, c.BookingTxTimeout)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}

	if c.MeetingAPIURL != "" && c.MeetingAPISecret == "" {
		return fmt.Errorf("MEETING_API_SECRET is required when MEETING_API_URL is set")
	}

	switch c.EmailProvider {
	case "log":
	case "ses":
		if c.EmailFrom == "" || c.AWSRegion == "" {
			return fmt.Errorf("EMAIL_FROM and AWS_REGION are required when EMAIL_PROVIDER is \"ses\"")
		}
	case "sendgrid":
		if c.EmailFrom == "" || c.SendGridAPIKey == "" {
			return fmt.Errorf("EMAIL_FROM and SENDGRID_API_KEY are required when EMAIL_PROVIDER is \"sendgrid\"")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be \"log\", \"ses\", or \"sendgrid\", got %q", c.EmailProvider)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if c.NotifyWorkers <= 0 || c.NotifyQueueSize <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}
	return nil
}
