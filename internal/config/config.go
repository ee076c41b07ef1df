package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	PublicBaseURL    string
	NodeID           int64
	AuthCookieSecure bool
	SessionTTL       time.Duration

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Signup    SignupPolicy
	Stripe    StripeConfig
	Email     EmailConfig
	Redis     RedisConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
}

// TelemetryConfig configures logs, traces and metrics export.
type TelemetryConfig struct {
	LogLevel       string
	LogFormat      string
	OTLPEnabled    bool
	OTLPEndpoint   string
	OTLPProtocol   string
	SamplingRatio  float64
	ServiceVersion string
}

type StripeConfig struct {
	SecretKey      string
	BaseURL        string
	AttemptTimeout time.Duration
	MaxAttempts    int
}

// Enabled reports whether a billing provider is configured.
func (c StripeConfig) Enabled() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

const (
	EmailDeliverySMTP  = "smtp"
	EmailDeliveryQueue = "queue"
	EmailDeliveryLog   = "log"
)

type EmailConfig struct {
	Delivery          string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPFrom          string
	WorkerConcurrency int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address has been configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type RealtimeConfig struct {
	Enabled     bool
	RedisFanout bool
	Channel     string
}

type RateLimitConfig struct {
	Enabled     bool
	SignupRate  float64
	SignupBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	emailDelivery := EmailDeliveryLog
	if environment == "production" {
		emailDelivery = EmailDeliverySMTP
	}

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "entrance"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL:    strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		NodeID:           getenvInt64("NODE_ID", 1),
		AuthCookieSecure: authCookieSecure,
		SessionTTL:       getenvDuration("SESSION_TTL", 7*24*time.Hour),
		Telemetry: TelemetryConfig{
			LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(getenv("LOG_FORMAT", "json")),
			OTLPEnabled:    getenvBool("OTEL_ENABLED", false),
			OTLPEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			OTLPProtocol:   strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			ServiceVersion: getenv("SERVICE_VERSION", ""),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Signup: SignupPolicy{
			VerifyEmailAddresses:  getenvBool("VERIFY_EMAIL_ADDRESSES", false),
			EmailProofTokenTTL:    getenvDuration("EMAIL_PROOF_TOKEN_TTL", DefaultEmailProofTokenTTL),
			EnableBillingFeatures: getenvBool("ENABLE_BILLING_FEATURES", false),
		},
		Stripe: StripeConfig{
			SecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			BaseURL:        strings.TrimRight(getenv("STRIPE_API_BASE", "https://api.stripe.com"), "/"),
			AttemptTimeout: getenvDuration("STRIPE_ATTEMPT_TIMEOUT", 5*time.Second),
			MaxAttempts:    getenvInt("STRIPE_MAX_ATTEMPTS", 3),
		},
		Email: EmailConfig{
			Delivery:          normalizeDelivery(getenv("EMAIL_DELIVERY", emailDelivery)),
			SMTPHost:          getenv("SMTP_HOST", "localhost"),
			SMTPPort:          getenvInt("SMTP_PORT", 587),
			SMTPUsername:      getenv("SMTP_USERNAME", ""),
			SMTPPassword:      getenv("SMTP_PASSWORD", ""),
			SMTPFrom:          getenv("SMTP_FROM", "noreply@example.com"),
			WorkerConcurrency: getenvInt("EMAIL_WORKER_CONCURRENCY", 2),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Realtime: RealtimeConfig{
			Enabled:     getenvBool("REALTIME_ENABLED", true),
			RedisFanout: getenvBool("REALTIME_REDIS_FANOUT", false),
			Channel:     getenv("REALTIME_CHANNEL", "entrance:session-changes"),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			SignupRate:  getenvFloat("RATE_LIMIT_SIGNUP_RATE", 0.2),
			SignupBurst: getenvInt("RATE_LIMIT_SIGNUP_BURST", 5),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeDelivery(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case EmailDeliverySMTP:
		return EmailDeliverySMTP
	case EmailDeliveryQueue:
		return EmailDeliveryQueue
	default:
		return EmailDeliveryLog
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
