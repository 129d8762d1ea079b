package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/streamflow/relay/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Webhooks      WebhooksConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration for the distributed delivery
// rate limiter. When URL is empty the in-process limiter is used instead.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// WebhooksConfig holds delivery engine and retry sweeper settings
type WebhooksConfig struct {
	BaseRetryDelay      time.Duration
	MaxRetryDelay       time.Duration
	BackoffMultiplier   float64
	DefaultMaxRetries   int
	DeactivateThreshold int
	RequestTimeout      time.Duration
	SweepInterval       time.Duration
	SweepBatchSize      int
	StaleClaimAfter     time.Duration
	RateLimitPerMinute  int
	MaxResponseBytes    int
}

// AuditConfig holds audit retention and archival settings
type AuditConfig struct {
	RetentionDays  int
	ArchiveEnabled bool
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("RELAY_HOST", "0.0.0.0"),
			Port:            getEnv("RELAY_PORT", "8080"),
			ReadTimeout:     getEnvDuration("RELAY_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("RELAY_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("RELAY_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("RELAY_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:         getEnv("RELAY_POSTGRES_URL", "postgres://localhost/relay?sslmode=disable"),
			MaxConns:    getEnvInt("RELAY_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("RELAY_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("RELAY_POSTGRES_TIMEOUT", 5*time.Second),
			MaxLifetime: getEnvDuration("RELAY_POSTGRES_MAX_LIFETIME", 30*time.Minute),
			MaxIdleTime: getEnvDuration("RELAY_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("RELAY_REDIS_URL", ""),
			Password: getEnv("RELAY_REDIS_PASSWORD", ""),
			DB:       getEnvInt("RELAY_REDIS_DB", 0),
		},
		Webhooks: WebhooksConfig{
			BaseRetryDelay:      getEnvDuration("RELAY_BASE_RETRY_DELAY", 1*time.Second),
			MaxRetryDelay:       getEnvDuration("RELAY_MAX_RETRY_DELAY", 5*time.Minute),
			BackoffMultiplier:   getEnvFloat("RELAY_BACKOFF_MULTIPLIER", 2.0),
			DefaultMaxRetries:   getEnvInt("RELAY_DEFAULT_MAX_RETRIES", 5),
			DeactivateThreshold: getEnvInt("RELAY_DEACTIVATE_THRESHOLD", 10),
			RequestTimeout:      getEnvDuration("RELAY_DELIVERY_TIMEOUT", 10*time.Second),
			SweepInterval:       getEnvDuration("RELAY_SWEEP_INTERVAL", 15*time.Second),
			SweepBatchSize:      getEnvInt("RELAY_SWEEP_BATCH_SIZE", 100),
			StaleClaimAfter:     getEnvDuration("RELAY_STALE_CLAIM_AFTER", 2*time.Minute),
			RateLimitPerMinute:  getEnvInt("RELAY_ENDPOINT_RATE_LIMIT", 100),
			MaxResponseBytes:    getEnvInt("RELAY_MAX_RESPONSE_BYTES", 4096),
		},
		Audit: AuditConfig{
			RetentionDays:  getEnvInt("RELAY_AUDIT_RETENTION_DAYS", 90),
			ArchiveEnabled: getEnvBool("RELAY_AUDIT_ARCHIVE_ENABLED", false),
			S3Bucket:       getEnv("RELAY_AUDIT_S3_BUCKET", ""),
			S3Region:       getEnv("RELAY_AUDIT_S3_REGION", "us-east-1"),
			S3Endpoint:     getEnv("RELAY_AUDIT_S3_ENDPOINT", ""),
			S3AccessKey:    getEnv("RELAY_AUDIT_S3_ACCESS_KEY", ""),
			S3SecretKey:    getEnv("RELAY_AUDIT_S3_SECRET_KEY", ""),
			S3UsePathStyle: getEnvBool("RELAY_AUDIT_S3_USE_PATH_STYLE", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("RELAY_LOG_LEVEL", "info")),
			OTelEnabled:        getEnvBool("RELAY_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("RELAY_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("RELAY_OTEL_SERVICE_NAME", "relay"),
			OTelServiceVersion: getEnv("RELAY_OTEL_SERVICE_VERSION", "dev"),
			OTelInsecure:       getEnvBool("RELAY_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for invalid combinations
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Webhooks.BaseRetryDelay <= 0 {
		return fmt.Errorf("base retry delay must be positive")
	}
	if c.Webhooks.MaxRetryDelay < c.Webhooks.BaseRetryDelay {
		return fmt.Errorf("max retry delay must be >= base retry delay")
	}
	if c.Webhooks.BackoffMultiplier <= 1.0 {
		return fmt.Errorf("backoff multiplier must be > 1.0")
	}
	if c.Webhooks.DefaultMaxRetries <= 0 {
		return fmt.Errorf("default max retries must be positive")
	}
	if c.Webhooks.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.Webhooks.RateLimitPerMinute <= 0 {
		return fmt.Errorf("endpoint rate limit must be positive")
	}
	if c.Audit.ArchiveEnabled && c.Audit.S3Bucket == "" {
		return fmt.Errorf("audit archival requires an S3 bucket")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
