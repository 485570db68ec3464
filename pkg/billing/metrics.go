package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a verified webhook event.
	// eventType: The normalized event type (e.g., "subscription_created")
	// planTier: The tier the event carries ("" for payment events without one)
	// status: "success", "ignored", "unknown_user" or "error"
	RecordWebhookEvent(provider, eventType, planTier, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(provider, errorType string)

	// RecordTierChange records when a user's tier changes.
	RecordTierChange(provider, fromTier, toTier string)

	// RecordCheckout records a checkout attempt.
	// status: "success", "unknown_tier" or "error"
	RecordCheckout(provider, tier, status string)

	// RecordAPICall records an API call to the billing provider.
	// endpoint: The API endpoint called (e.g., "/subscriptions/{id}")
	// status: HTTP status code as string (e.g., "200", "404", "500") or "error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _, _ string)                         {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordTierChange(_, _, _ string)                              {}
func (n *NoopMetrics) RecordCheckout(_, _, _ string)                                {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
