// Package config defines the configuration structure for the escalarm daemon
// and its companion binaries. Configuration is loaded once at process start and
// is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> *_FILE secret files (Lowest)
//
// Any invalid value causes LoadConfig to return a *ConfigError so the binary
// can exit before any component is constructed.
package config

import (
	"time"

	"escalarm/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"escalarm"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server        ServerConfig
	Scheduler     SchedulerConfig
	Notification  NotificationConfig
	Webhook       WebhookConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// APIKeyHash is the bcrypt hash of the shared API key. Empty disables
	// authentication, which is only permitted when APP_ENV=local.
	APIKeyHash      SecretString  `envconfig:"API_KEY_HASH"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"min=1s"`
}

// SchedulerConfig holds sweep cadence and retention settings.
type SchedulerConfig struct {
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s" validate:"min=1s"`
	SweepTolerance time.Duration `envconfig:"SWEEP_TOLERANCE" default:"2s" validate:"min=0s"`
	ExpiryGrace    time.Duration `envconfig:"EXPIRY_GRACE" default:"24h" validate:"min=0s"`
	// CleanupInterval drives periodic CleanupExpired calls from the daemon.
	// Zero leaves cleanup to API callers.
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"0s" validate:"min=0s"`
	AdvisoryCapacity int           `envconfig:"ADVISORY_CAPACITY" default:"100" validate:"min=1"`
	// TaskTimezone decides where "today" ends when syncing tasks.
	TaskTimezone string `envconfig:"TASK_TIMEZONE" default:"UTC" validate:"timezone"`
}

// NotificationConfig holds gateway and delivery backend settings.
type NotificationConfig struct {
	// PermissionGranted mirrors the user's notification authorization. When
	// false the gateway refuses to schedule and the engine runs silently.
	PermissionGranted bool `envconfig:"NOTIFY_PERMISSION_GRANTED" default:"true"`
	// ReminderOffset shifts the first notification relative to the due date.
	// Negative values remind ahead of time.
	ReminderOffset time.Duration `envconfig:"REMINDER_OFFSET" default:"0s"`
	Category       string        `envconfig:"NOTIFY_CATEGORY" default:"escalating_alarm"`
	// QueueURL enables the SQS deliverer when set.
	QueueURL string `envconfig:"SQS_DELIVERY_QUEUE" validate:"omitempty,url"`
}

// WebhookConfig holds settings for outbound webhook delivery.
type WebhookConfig struct {
	URL            string        `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	Secret         SecretString  `envconfig:"WEBHOOK_SECRET"`
	PreviousSecret SecretString  `envconfig:"WEBHOOK_PREVIOUS_SECRET"`
	Platform       string        `envconfig:"WEBHOOK_PLATFORM" validate:"omitempty,oneof=slack discord teams google_chat generic"`
	UserAgent      string        `envconfig:"WEBHOOK_USER_AGENT" default:"Escalarm-Webhook/1.0"`
	DefaultTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s" validate:"min=1s"`
	MaxRetries     int           `envconfig:"WEBHOOK_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
	MaxRedirects   int           `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3" validate:"min=0,max=10"`

	// AllowPrivateNetworks lets webhooks reach loopback and RFC 1918
	// addresses. Only for local development.
	AllowPrivateNetworks bool `envconfig:"WEBHOOK_ALLOW_PRIVATE" default:"false"`

	// PreviousSecretExpiresAt bounds the rotation window (RFC3339).
	PreviousSecretExpiresAt time.Time `envconfig:"WEBHOOK_PREVIOUS_SECRET_EXPIRES_AT"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// An empty URL selects the in-memory alarm store.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	// Tuning Parameters
	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"5"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ArchiveConfig controls the escalation history archive. An empty Dir
// disables archiving.
type ArchiveConfig struct {
	Dir string `envconfig:"ARCHIVE_DIR"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Escalarm"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSecretResolution indicates a *_FILE secret could not be read.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
