package billing

import (
	"encoding/json"

	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// Normalized event vocabulary. These are the only values the dispatcher acts on;
// anything else a provider emits passes through verbatim and is ignored.
const (
	EventSubscriptionCreated   = "subscription_created"
	EventSubscriptionUpdated   = "subscription_updated"
	EventSubscriptionCancelled = "subscription_cancelled"
	EventSubscriptionExpired   = "subscription_expired"
	EventPaymentSuccess        = "payment_success"
	EventPaymentFailed         = "payment_failed"
)

// IsKnownEvent reports whether eventType belongs to the normalized vocabulary
func IsKnownEvent(eventType string) bool {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionCancelled, EventSubscriptionExpired,
		EventPaymentSuccess, EventPaymentFailed:
		return true
	}
	return false
}

// WebhookEvent is a provider webhook after signature verification and normalization.
type WebhookEvent struct {
	// Provider is the billing provider name ("lemonsqueezy", "stripe", "toss")
	Provider string `json:"provider"`

	// EventType is a normalized event type, or the provider's own name when unmapped
	EventType string `json:"event_type"`

	CustomerEmail string    `json:"customer_email"`
	PlanTier      tier.Tier `json:"plan_tier"`

	// SubscriptionID is the provider's subscription handle (billing key or order id for toss)
	SubscriptionID string `json:"subscription_id"`

	CustomerID string `json:"customer_id,omitempty"`
	BillingKey string `json:"-"`

	// ProviderEventID is kept for downstream reconciliation of duplicates
	ProviderEventID string `json:"provider_event_id,omitempty"`

	// AmountCents is in the currency's minor unit: cents for USD, whole won for
	// KRW (toss), which has no minor unit. Do not divide KRW amounts by 100.
	AmountCents *int64 `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`

	// RawData is the verified payload as received
	RawData json.RawMessage `json:"raw_data,omitempty"`
}
