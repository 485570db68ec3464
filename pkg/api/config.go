package api

import (
	"fmt"
	"net/http"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/billing"
)

// Config holds configuration for the key-management and billing API
type Config struct {
	// Manager is the auth manager instance (required)
	Manager *auth.Manager

	// Provider is the active billing provider. If nil, billing routes answer 503.
	Provider billing.Provider

	// Dispatcher applies webhook events. Required for the webhook route and for
	// providers that complete purchases in-service (billing.Subscriber).
	Dispatcher *billing.Dispatcher

	// Webhook tunes the mounted webhook handler
	Webhook billing.HandlerConfig

	// SuccessURL and CancelURL are used when a checkout request omits them
	SuccessURL string
	CancelURL  string

	// OnError handles errors (validation, internal, etc.)
	// If nil, uses default JSON error handling
	OnError func(w http.ResponseWriter, r *http.Request, err error, statusCode int)

	// Logger is optional. Defaults to auth.NoopLogger.
	Logger auth.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if _, ok := c.Provider.(billing.Subscriber); ok && c.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required for provider %q", c.Provider.Name())
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &auth.NoopLogger{}
	}
	if config.Webhook.Logger == nil {
		config.Webhook.Logger = config.Logger
	}

	h := &Handler{
		config:   config,
		validate: newValidator(),
	}
	h.router = h.routes()
	return h, nil
}
