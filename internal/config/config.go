package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the Nexus storage API.
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Blob      BlobConfig
	Upload    UploadConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
	Reconcile ReconcileConfig
	AMQP      AMQPConfig
	LogLevel  string
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	RunMigrations bool
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// Blob backends understood by BlobConfig.Backend.
const (
	BackendMinIO = "minio"
	BackendS3    = "s3"
)

// BlobConfig carries object storage connection and bucket information.
type BlobConfig struct {
	Backend         string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	PresignTTL      time.Duration
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxFileSize int64
}

// AuthConfig groups token validation settings. Tokens are issued by the
// external identity provider; this service only verifies them.
type AuthConfig struct {
	AccessTokenSecret string
	Issuer            string
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// ReconcileConfig drives the background reconciliation worker.
type ReconcileConfig struct {
	Enabled     bool
	Interval    time.Duration
	Concurrency int
	BatchSize   int

	// PendingTimeout is how long an unreleased upload/delete marker holds
	// off reconciliation of its owner.
	PendingTimeout time.Duration
}

// AMQPConfig describes where reconciliation tasks are published. An empty URL
// disables publishing.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("NEXUS_API_HOST", "0.0.0.0"),
			Port:         getInt("NEXUS_API_PORT", 8080),
			ReadTimeout:  getDuration("NEXUS_API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("NEXUS_API_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getDuration("NEXUS_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:          getString("POSTGRES_HOST", "localhost"),
			Port:          getInt("POSTGRES_PORT", 5432),
			User:          getString("POSTGRES_USER", "nexus_app"),
			Password:      getString("POSTGRES_PASSWORD", "change-me"),
			Database:      getString("POSTGRES_DB", "nexus"),
			SSLMode:       strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			RunMigrations: getBool("POSTGRES_RUN_MIGRATIONS", true),
		},
		Blob: BlobConfig{
			Backend:         strings.ToLower(getString("BLOB_BACKEND", BackendMinIO)),
			Endpoint:        getString("BLOB_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("BLOB_ACCESS_KEY", "nexus"),
			SecretAccessKey: getString("BLOB_SECRET_KEY", "change-me-strong-password"),
			Bucket:          getString("BLOB_BUCKET", "nexus-cloud"),
			UseSSL:          getBool("BLOB_USE_SSL", false),
			Region:          getString("BLOB_REGION", "us-east-1"),
			PresignTTL:      getDuration("BLOB_PRESIGN_TTL", 24*time.Hour),
		},
		Upload: UploadConfig{
			MaxFileSize: getInt64("NEXUS_MAX_FILE_SIZE", 100*1024*1024),
		},
		Auth: AuthConfig{
			AccessTokenSecret: getString("NEXUS_JWT_SECRET", "change-me-to-a-32-byte-secret"),
			Issuer:            getString("NEXUS_JWT_ISSUER", ""),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("NEXUS_METRICS_PATH", "/metrics"),
		},
		Reconcile: ReconcileConfig{
			Enabled:     getBool("RECONCILE_ENABLED", true),
			Interval:    getDuration("RECONCILE_INTERVAL", 10*time.Minute),
			Concurrency: getInt("RECONCILE_CONCURRENCY", 4),
			BatchSize:   getInt("RECONCILE_BATCH_SIZE", 100),

			PendingTimeout: getDuration("RECONCILE_PENDING_TIMEOUT", time.Hour),
		},
		AMQP: AMQPConfig{
			URL:        getString("AMQP_URL", ""),
			Exchange:   getString("AMQP_EXCHANGE", "nexus.reconcile"),
			RoutingKey: getString("AMQP_ROUTING_KEY", "reconcile.task"),
		},
		LogLevel: getString("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Blob.Backend {
	case BackendMinIO, BackendS3:
	default:
		return fmt.Errorf("unsupported BLOB_BACKEND %q", c.Blob.Backend)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("NEXUS_MAX_FILE_SIZE must be positive")
	}
	if c.Reconcile.Concurrency < 1 {
		return fmt.Errorf("RECONCILE_CONCURRENCY must be at least 1")
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.Reconcile.PendingTimeout <= 0 {
		return fmt.Errorf("RECONCILE_PENDING_TIMEOUT must be positive")
	}
	return nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
