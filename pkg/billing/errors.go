package billing

import (
	"errors"

	"github.com/stellar-memory/stellar-auth/pkg/billing/internal"
)

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = internal.ErrProviderAPIError

	// ErrUnknownTier is returned when a checkout is requested for a tier without a price mapping
	ErrUnknownTier = errors.New("tier not configured for provider")

	// ErrNotSupported is returned when a provider doesn't support an operation
	ErrNotSupported = errors.New("operation not supported by this provider")
)

// ProviderError carries the upstream response of a failed provider call.
// It unwraps to ErrProviderAPIError.
type ProviderError = internal.ProviderError
