package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Payment gateway modes.
const (
	PaymentModeMock    = "mock"
	PaymentModeSandbox = "sandbox"
	PaymentModeLive    = "live"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"debug" validate:"oneof=trace debug info warn error"`

	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`

	// Payment gateway
	PaymentMode                string `envconfig:"PAYMENT_MODE" default:"mock" validate:"oneof=mock sandbox live"`
	PayPalClientID             string `envconfig:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret         string `envconfig:"PAYPAL_CLIENT_SECRET"`
	PayPalClientSecretResource string `envconfig:"PAYPAL_CLIENT_SECRET_RESOURCE"`
	PayPalWebhookID            string `envconfig:"PAYPAL_WEBHOOK_ID"`
	PaymentReturnURL           string `envconfig:"PAYMENT_RETURN_URL" default:"http://localhost:3000/billing/return" validate:"url"`
	PaymentCancelURL           string `envconfig:"PAYMENT_CANCEL_URL" default:"http://localhost:3000/billing/cancel" validate:"url"`
	PaymentBrandName           string `envconfig:"PAYMENT_BRAND_NAME" default:"Paywall"`
	PaymentGatewayTimeoutSec   int    `envconfig:"PAYMENT_GATEWAY_TIMEOUT_SEC" default:"15" validate:"min=1,max=120"`
	PaymentMockWebhookSecret   string `envconfig:"PAYMENT_MOCK_WEBHOOK_SECRET"`

	// Entitlements
	EnforcePaidQuota bool `envconfig:"ENFORCE_PAID_QUOTA" default:"false"`

	// Webhook de-duplication (optional)
	RedisAddr          string `envconfig:"REDIS_ADDR"`
	RedisPassword      string `envconfig:"REDIS_PASSWORD"`
	WebhookDedupeTTLHr int    `envconfig:"WEBHOOK_DEDUPE_TTL_HOURS" default:"72" validate:"min=1"`

	// Subscription events (optional)
	GCPProjectID            string `envconfig:"GCP_PROJECT_ID"`
	PubSubSubscriptionTopic string `envconfig:"PUBSUB_SUBSCRIPTION_TOPIC" default:"subscription-events"`

	// Webhook archive (optional)
	WebhookArchiveBucket string `envconfig:"WEBHOOK_ARCHIVE_BUCKET"`
	S3URL                string `envconfig:"S3_URL"`
	S3Region             string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey          string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey          string `envconfig:"S3_SECRET_KEY"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.PaymentMode != PaymentModeMock {
		if cfg.PayPalClientID == "" {
			return nil, fmt.Errorf("invalid config: PAYPAL_CLIENT_ID is required when PAYMENT_MODE=%s", cfg.PaymentMode)
		}
		if cfg.PayPalClientSecret == "" && cfg.PayPalClientSecretResource == "" {
			return nil, fmt.Errorf("invalid config: PAYPAL_CLIENT_SECRET or PAYPAL_CLIENT_SECRET_RESOURCE is required when PAYMENT_MODE=%s", cfg.PaymentMode)
		}
	}
	return &cfg, nil
}

// UseMockGateway reports whether the offline payment gateway was selected.
// Only PAYMENT_MODE=mock selects it; provider modes never fall back to it.
func (c *Config) UseMockGateway() bool {
	return c.PaymentMode == PaymentModeMock
}

// GatewayTimeout bounds every call made to the payment provider.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.PaymentGatewayTimeoutSec) * time.Second
}

func (c *Config) WebhookDedupeTTL() time.Duration {
	return time.Duration(c.WebhookDedupeTTLHr) * time.Hour
}
