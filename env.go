package driftmail

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the prefix for environment-based configuration, so the
// auth token is read from DRIFTMAIL_AUTH_TOKEN and so on.
const envPrefix = "driftmail"

// EnvConfig is the environment-variable form of the client
// configuration. Zero values fall back to the library defaults.
type EnvConfig struct {
	AuthToken string `envconfig:"AUTH_TOKEN"`
	BaseURL   string `envconfig:"BASE_URL"`
	UserAgent string `envconfig:"USER_AGENT"`

	HTTPTimeout    time.Duration `envconfig:"HTTP_TIMEOUT"`
	MaxRetries     int           `envconfig:"MAX_RETRIES"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY"`
	RetryMaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY"`

	StreamBackoffInitial time.Duration `envconfig:"STREAM_BACKOFF_INITIAL"`
	StreamBackoffMax     time.Duration `envconfig:"STREAM_BACKOFF_MAX"`

	SubscriptionQueueSize int `envconfig:"SUBSCRIPTION_QUEUE_SIZE"`
	DeliveryWorkers       int `envconfig:"DELIVERY_WORKERS"`
}

// options converts the environment configuration to client options.
func (e *EnvConfig) options() []Option {
	var opts []Option
	if e.BaseURL != "" {
		opts = append(opts, WithBaseURL(e.BaseURL))
	}
	if e.UserAgent != "" {
		opts = append(opts, WithUserAgent(e.UserAgent))
	}
	if e.HTTPTimeout > 0 {
		opts = append(opts, WithHTTPTimeout(e.HTTPTimeout))
	}
	if e.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(e.MaxRetries))
	}
	if e.RetryBaseDelay > 0 || e.RetryMaxDelay > 0 {
		opts = append(opts, WithRetryDelays(e.RetryBaseDelay, e.RetryMaxDelay))
	}
	if e.StreamBackoffInitial > 0 || e.StreamBackoffMax > 0 {
		opts = append(opts, WithStreamBackoff(e.StreamBackoffInitial, e.StreamBackoffMax))
	}
	if e.SubscriptionQueueSize > 0 {
		opts = append(opts, WithSubscriptionQueueSize(e.SubscriptionQueueSize))
	}
	if e.DeliveryWorkers > 0 {
		opts = append(opts, WithDeliveryWorkers(e.DeliveryWorkers))
	}
	return opts
}

// NewFromEnv builds a client from DRIFTMAIL_* environment variables,
// loading a .env file first when one is present. Explicit options
// override values from the environment.
func NewFromEnv(opts ...Option) (*Client, error) {
	// Missing .env files are fine; real environments set variables directly.
	_ = godotenv.Load()

	var cfg EnvConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment config: %w", err)
	}
	if cfg.AuthToken == "" {
		return nil, ErrMissingAuthToken
	}

	return New(cfg.AuthToken, append(cfg.options(), opts...)...)
}
