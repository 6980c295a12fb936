// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const minJWTSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the REST API listens on (e.g. :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the internal gRPC health endpoint. Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment: development, test or production. Selects the JWT secret.
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr enables login and password-forgot throttling when set (e.g. localhost:6379).
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWT secrets per environment; only the one matching Env is used.
	JWTSecretDev  string `mapstructure:"JWT_SECRET_DEV"`
	JWTSecretTest string `mapstructure:"JWT_SECRET_TEST"`
	JWTSecretProd string `mapstructure:"JWT_SECRET_PROD"`
	// JWTIssuer is the iss claim on every token.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	OTPLength         int    `mapstructure:"OTP_LENGTH"`
	OTPMaxAttempts    int    `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPTTLRaw         string `mapstructure:"OTP_TTL"`
	OTPCooldownRaw    string `mapstructure:"OTP_COOLDOWN"`
	OTPVerifiedRaw    string `mapstructure:"OTP_VERIFIED_WINDOW"`
	ResetTTLRaw       string `mapstructure:"RESET_TTL"`
	SessionPairRaw    string `mapstructure:"SESSION_PAIR_WINDOW"`
	GatewayTimeoutRaw string `mapstructure:"GATEWAY_TIMEOUT"`
	// ResetURLBase is the front-end page that receives ?token= in reset emails.
	ResetURLBase string `mapstructure:"RESET_URL_BASE"`

	// LeTexto SMS gateway.
	SMSBaseURL     string `mapstructure:"SMS_BASE_URL"`
	SMSAPIKey      string `mapstructure:"SMS_API_KEY"`
	SMSSender      string `mapstructure:"SMS_SENDER"`
	SMSCountryCode string `mapstructure:"SMS_COUNTRY_CODE"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	LoginMaxAttempts int    `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginCooldownRaw string `mapstructure:"LOGIN_COOLDOWN"`

	// OTPReturnToClient enables dev OTP mode: no SMS, codes readable via GET /dev/otp. Refused in production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`

	// OTLPEndpoint enables OpenTelemetry export when set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated broker list; when set, auth events are published to AuthEventsTopic.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_TOPIC"`
	// Worker-only settings.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	LokiURL      string `mapstructure:"LOKI_URL"`

	// Seed-only settings. SeedSuperAdminPassword falls back to SeedAdminPassword.
	SeedAdminPassword      string `mapstructure:"SEED_ADMIN_PASSWORD"`
	SeedSuperAdminPassword string `mapstructure:"SEED_SUPERADMIN_PASSWORD"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET_DEV", "")
	v.SetDefault("JWT_SECRET_TEST", "")
	v.SetDefault("JWT_SECRET_PROD", "")
	v.SetDefault("JWT_ISSUER", "medconnect-auth")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTP_LENGTH", 4)
	v.SetDefault("OTP_MAX_ATTEMPTS", 3)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_COOLDOWN", "60s")
	v.SetDefault("OTP_VERIFIED_WINDOW", "10m")
	v.SetDefault("RESET_TTL", "30m")
	v.SetDefault("SESSION_PAIR_WINDOW", "10s")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("RESET_URL_BASE", "")
	v.SetDefault("SMS_BASE_URL", "https://apis.letexto.com/v1")
	v.SetDefault("SMS_API_KEY", "")
	v.SetDefault("SMS_SENDER", "REXTO")
	v.SetDefault("SMS_COUNTRY_CODE", "225")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_COOLDOWN", "15m")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_TOPIC", "medconnect-auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "medconnect-auth-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("SEED_ADMIN_PASSWORD", "")
	v.SetDefault("SEED_SUPERADMIN_PASSWORD", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	switch cfg.Env {
	case "development", "test", "production":
	default:
		return nil, errors.New("config: APP_ENV must be development, test or production")
	}

	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.OTPLength < 4 || cfg.OTPLength > 8 {
		return nil, errors.New("config: OTP_LENGTH must be between 4 and 8")
	}
	if cfg.OTPMaxAttempts < 1 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}

	return &cfg, nil
}

// JWTSecret returns the signing secret for the current environment.
func (c *Config) JWTSecret() string {
	switch c.Env {
	case "production":
		return c.JWTSecretProd
	case "test":
		return c.JWTSecretTest
	default:
		return c.JWTSecretDev
	}
}

// ValidateJWTSecret fails if the environment's secret is missing or too short. The server calls it before minting tokens.
func (c *Config) ValidateJWTSecret() error {
	if len(c.JWTSecret()) < minJWTSecretLen {
		return errors.New("config: JWT secret for " + c.Env + " must be at least 32 bytes (JWT_SECRET_DEV/TEST/PROD)")
	}
	return nil
}

// OTPTTL returns the OTP lifetime. Returns 5m if unset or invalid.
func (c *Config) OTPTTL() time.Duration { return parseDuration(c.OTPTTLRaw, 5*time.Minute) }

// OTPCooldown returns the minimum delay between two OTP sends for a phone. Returns 60s if unset or invalid.
func (c *Config) OTPCooldown() time.Duration { return parseDuration(c.OTPCooldownRaw, time.Minute) }

// OTPVerifiedWindow returns how long a consumed OTP proves phone ownership for registration. Returns 10m if unset or invalid.
func (c *Config) OTPVerifiedWindow() time.Duration {
	return parseDuration(c.OTPVerifiedRaw, 10*time.Minute)
}

// ResetTTL returns the password reset lifetime. Returns 30m if unset or invalid.
func (c *Config) ResetTTL() time.Duration { return parseDuration(c.ResetTTLRaw, 30*time.Minute) }

// SessionPairWindow returns the tolerance used to list access and refresh records that carry no
// session id as one session. Returns 10s if unset or invalid.
func (c *Config) SessionPairWindow() time.Duration {
	return parseDuration(c.SessionPairRaw, 10*time.Second)
}

// GatewayTimeout bounds outbound SMS and email calls. Returns 10s if unset or invalid.
func (c *Config) GatewayTimeout() time.Duration {
	return parseDuration(c.GatewayTimeoutRaw, 10*time.Second)
}

// LoginCooldown is the throttling window for failed logins. Returns 15m if unset or invalid.
func (c *Config) LoginCooldown() time.Duration {
	return parseDuration(c.LoginCooldownRaw, 15*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
