package driftmail

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

// Default client configuration values.
const (
	defaultBaseURL = "https://api.driftmail.io"

	defaultQueueSize     = 64
	defaultBlockDeadline = 5 * time.Second
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	decrypter  Decrypter

	httpTimeout    time.Duration
	maxRetries     int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	streamBackoffInitial time.Duration
	streamBackoffMax     time.Duration

	subscriptionQueueSize int
	overflowPolicy        OverflowPolicy
	deliveryWorkers       int
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		baseURL:               defaultBaseURL,
		decrypter:             defaultDecrypter{},
		subscriptionQueueSize: defaultQueueSize,
		overflowPolicy:        DropOldest,
		deliveryWorkers:       runtime.NumCPU(),
	}
}

// subscribeConfig holds per-subscription configuration.
type subscribeConfig struct {
	queueSize     int
	policy        OverflowPolicy
	blockDeadline time.Duration
}

// inboxConfig holds configuration for inbox registration.
type inboxConfig struct {
	label string
}

// Option configures the client.
type Option func(*clientConfig)

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

// InboxOption configures inbox registration.
type InboxOption func(*inboxConfig)

// WithBaseURL sets the service endpoint.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger for background diagnostics (reconnects,
// dropped frames). By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithDecrypter injects a custom decryption capability. The default
// uses ML-KEM-768 with HKDF-SHA-512 and AES-256-GCM.
func WithDecrypter(d Decrypter) Option {
	return func(c *clientConfig) {
		c.decrypter = d
	}
}

// WithHTTPTimeout sets the per-attempt deadline for non-stream calls.
// Default: 30 seconds.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.httpTimeout = timeout
	}
}

// WithMaxRetries sets the maximum number of retry attempts for API calls.
// Default: 3.
func WithMaxRetries(count int) Option {
	return func(c *clientConfig) {
		c.maxRetries = count
	}
}

// WithRetryDelays sets the base and maximum backoff between retries.
// Defaults: 500ms base, 30s maximum.
func WithRetryDelays(base, max time.Duration) Option {
	return func(c *clientConfig) {
		c.retryBaseDelay = base
		c.retryMaxDelay = max
	}
}

// WithStreamBackoff sets the initial and maximum reconnect delay for
// the event stream. Defaults: 500ms initial, 30s maximum.
func WithStreamBackoff(initial, max time.Duration) Option {
	return func(c *clientConfig) {
		c.streamBackoffInitial = initial
		c.streamBackoffMax = max
	}
}

// WithSubscriptionQueueSize sets the default sink queue bound for new
// subscriptions. Default: 64.
func WithSubscriptionQueueSize(size int) Option {
	return func(c *clientConfig) {
		c.subscriptionQueueSize = size
	}
}

// WithOverflowPolicy sets the default overflow policy for new
// subscriptions. Default: DropOldest.
func WithOverflowPolicy(policy OverflowPolicy) Option {
	return func(c *clientConfig) {
		c.overflowPolicy = policy
	}
}

// WithDeliveryWorkers sets the size of the delivery worker pool.
// Default: the number of CPUs.
func WithDeliveryWorkers(workers int) Option {
	return func(c *clientConfig) {
		c.deliveryWorkers = workers
	}
}

// WithQueueSize overrides the sink queue bound for one subscription.
func WithQueueSize(size int) SubscribeOption {
	return func(c *subscribeConfig) {
		c.queueSize = size
	}
}

// WithPolicy overrides the overflow policy for one subscription.
func WithPolicy(policy OverflowPolicy) SubscribeOption {
	return func(c *subscribeConfig) {
		c.policy = policy
	}
}

// WithBlockDeadline sets how long a BlockWithDeadline subscription may
// stall the publisher before the event is discarded. Default: 5 seconds.
func WithBlockDeadline(d time.Duration) SubscribeOption {
	return func(c *subscribeConfig) {
		c.blockDeadline = d
	}
}

// WithLabel tags the inbox with a caller-supplied label.
func WithLabel(label string) InboxOption {
	return func(c *inboxConfig) {
		c.label = label
	}
}
