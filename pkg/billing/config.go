package billing

import (
	"net/http"
	"time"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
)

// DefaultHTTPTimeout applies when Config.HTTPClient is nil
const DefaultHTTPTimeout = 10 * time.Second

// Config defines the standard configuration all providers should accept
type Config struct {
	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// WebhookSecret is used to verify incoming webhook signatures.
	WebhookSecret string

	// BaseURL overrides the provider's API base URL (tests, proxies).
	BaseURL string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// Logger is optional. Defaults to auth.NoopLogger.
	Logger auth.Logger
}

// WithDefaults fills in the optional fields
func (c Config) WithDefaults(defaultBaseURL string) Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = &auth.NoopLogger{}
	}
	return c
}
