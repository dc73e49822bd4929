// Package config defines the global configuration structure for the FieldNotes
// billing service. Configuration is loaded once at process initialization and
// is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved from the OS environment, with a local .env file as a
// development convenience. Any missing required value or invalid format causes
// the application to fail immediately on startup.
package config

import (
	"time"

	"fieldnotes/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the billing service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Email    EmailConfig
	AWS      AWSConfig
	Ledger   LedgerConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// AppBaseURL is the UI collaborator's public URL, used for checkout and
	// portal redirects (no trailing slash).
	AppBaseURL string `envconfig:"APP_BASE_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"` // Fail fast when pool exhausted
}

// BillingConfig holds Stripe payment integration credentials and keys.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	// PriceIDStandard and PriceIDPlus map plan tiers to Stripe Price IDs.
	PriceIDStandard string `envconfig:"STRIPE_PRICE_ID_STANDARD" validate:"required"`
	PriceIDPlus     string `envconfig:"STRIPE_PRICE_ID_PLUS"`
}

// EmailConfig holds email delivery provider credentials and sender identity.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"billing@fieldnotes.app"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"FieldNotes"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// NotificationQueue is the SQS queue consumed by the email worker.
	// Empty disables the notification sidecar (logs only).
	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS"`

	// MetricNamespace is the CloudWatch namespace for billing telemetry.
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"FieldNotes/Billing"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// LedgerConfig holds tuning for the billing core itself.
type LedgerConfig struct {
	// EventRetention is how long processed renewal event markers are kept
	// before pruning. Must comfortably exceed the processor's maximum
	// redelivery delay.
	EventRetention time.Duration `envconfig:"EVENT_MARKER_RETENTION" default:"1080h"` // 45 days

	// PruneInterval is how often the background pruner runs.
	PruneInterval time.Duration `envconfig:"EVENT_PRUNE_INTERVAL" default:"12h"`

	// TxTimeout bounds the webhook storage transaction. On expiry the
	// handler fails the HTTP response so the processor redelivers.
	TxTimeout time.Duration `envconfig:"BILLING_TX_TIMEOUT" default:"10s"`
}
