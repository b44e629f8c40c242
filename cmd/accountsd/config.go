package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-accounts"
)

// Config holds the runtime configuration loaded from environment variables.
type Config struct {
	Addr     string
	LogLevel string
	LogJSON  bool

	DBDriver    string // sqlite or postgres
	DatabaseURL string
	DBDebug     bool

	TokenStore   string // sql or dynamodb
	DynamoTable  string
	AWSRegion    string
	AWSEndpoint  string
	AWSAccessKey string
	AWSSecretKey string

	Notifier    string // log, smtp or sns
	SMTPHost    string
	SMTPPort    string
	SMTPFrom    string
	SMTPUser    string
	SMTPPass    string
	SNSTopicARN string

	SigningKey            string
	Issuer                string
	Audience              []string
	SessionHours          int
	ActivationTokenTTL    time.Duration
	PasswordResetTokenTTL time.Duration
	RequireActivation     bool
	PublicBaseURL         string

	CookieName    string
	CookieSecure  bool
	RateLimit     float64
	RateBurst     int
	PurgeInterval time.Duration
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Addr:     getEnv("ACCOUNTS_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", true),

		DBDriver:    getEnv("DB_DRIVER", "sqlite"),
		DatabaseURL: getEnv("DATABASE_URL", "file:accounts.db?cache=shared"),
		DBDebug:     getEnvBool("DB_DEBUG", false),

		TokenStore:   getEnv("TOKEN_STORE", "sql"),
		DynamoTable:  getEnv("DYNAMO_TABLE_TOKENS", "verification_tokens"),
		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		AWSEndpoint:  getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		Notifier:    getEnv("NOTIFIER", "log"),
		SMTPHost:    getEnv("SMTP_HOST", "localhost"),
		SMTPPort:    getEnv("SMTP_PORT", "1025"),
		SMTPFrom:    getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUser:    getEnv("SMTP_USERNAME", ""),
		SMTPPass:    getEnv("SMTP_PASSWORD", ""),
		SNSTopicARN: getEnv("SNS_TOPIC_ARN", ""),

		SigningKey:            getEnv("SESSION_SIGNING_KEY", ""),
		Issuer:                getEnv("SESSION_ISSUER", "accountsd"),
		Audience:              getEnvList("SESSION_AUDIENCE"),
		SessionHours:          getEnvInt("SESSION_HOURS", accounts.DefaultSessionHours),
		ActivationTokenTTL:    getEnvDuration("ACTIVATION_TOKEN_TTL", accounts.DefaultActivationTokenTTL),
		PasswordResetTokenTTL: getEnvDuration("PASSWORD_RESET_TOKEN_TTL", accounts.DefaultPasswordResetTokenTTL),
		RequireActivation:     getEnvBool("REQUIRE_ACTIVATION", true),
		PublicBaseURL:         getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		CookieName:    getEnv("SESSION_COOKIE", accounts.DefaultContextKey),
		CookieSecure:  getEnvBool("SESSION_COOKIE_SECURE", false),
		RateLimit:     getEnvFloat("RATE_LIMIT_PER_SECOND", 1),
		RateBurst:     getEnvInt("RATE_LIMIT_BURST", 5),
		PurgeInterval: getEnvDuration("TOKEN_PURGE_INTERVAL", time.Hour),
	}
}

// Accounts returns the lifecycle and session settings.
func (c Config) Accounts() accounts.DefaultConfig {
	return accounts.DefaultConfig{
		SigningKey:            c.SigningKey,
		ContextKey:            c.CookieName,
		TokenExpiration:       c.SessionHours,
		Issuer:                c.Issuer,
		Audience:              c.Audience,
		ActivationTokenTTL:    c.ActivationTokenTTL,
		PasswordResetTokenTTL: c.PasswordResetTokenTTL,
		RequireActivation:     c.RequireActivation,
		PublicBaseURL:         c.PublicBaseURL,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
