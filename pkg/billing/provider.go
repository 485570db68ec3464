package billing

import (
	"context"
	"encoding/json"

	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// Provider is the generic interface that any billing backend must implement.
// Adapters stop at producing a normalized WebhookEvent; they never touch persistence.
type Provider interface {
	// Name returns the provider name (e.g., "lemonsqueezy", "stripe", "toss")
	Name() string

	// SignatureHeader is the request header carrying the webhook signature
	SignatureHeader() string

	// CreateCheckout starts a subscription purchase for t.
	// Returns ErrUnknownTier if the provider has no price mapping for t.
	CreateCheckout(ctx context.Context, t tier.Tier, customerEmail, successURL, cancelURL string) (*CheckoutResult, error)

	// VerifyWebhook checks the signature and normalizes the payload.
	// Returns ErrInvalidWebhookSignature before any parsing when the check fails.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)

	// CancelSubscription stops future billing. true means the provider acknowledged.
	CancelSubscription(ctx context.Context, subscriptionID string) (bool, error)

	// PortalURL returns a page where the end user can manage payment details
	PortalURL(ctx context.Context, customerOrSubscriptionID string) (string, error)
}

// SubscriptionPortal is implemented by providers whose PortalURL takes a
// subscription id. Other providers are handed the customer id.
type SubscriptionPortal interface {
	PortalKeyedBySubscription() bool
}

// PortalHandle returns the stored id that provider's PortalURL expects, or ""
func PortalHandle(provider Provider, customerID, subscriptionID *string) string {
	id := customerID
	if sp, ok := provider.(SubscriptionPortal); ok && sp.PortalKeyedBySubscription() {
		id = subscriptionID
	}
	if id == nil {
		return ""
	}
	return *id
}

// BillingKeyProvider is implemented by providers where the service itself
// initiates recurring charges against a stored billing key.
type BillingKeyProvider interface {
	Provider

	// IssueBillingKey exchanges the front-end authorization for a billing key
	IssueBillingKey(ctx context.Context, customerKey, authKey string) (string, error)

	// ChargeBilling charges a billing key once
	ChargeBilling(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// Subscriber is implemented by billing-key providers that complete a purchase
// inside the service: the first charge runs synchronously and the adapter
// returns the subscription_created event the dispatcher should apply.
type Subscriber interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (*WebhookEvent, error)
}

// SubscribeRequest carries the front-end authorization of a first purchase
type SubscribeRequest struct {
	UserID      string
	Email       string
	CustomerKey string
	AuthKey     string
	Tier        tier.Tier
}

// CheckoutResult is what a checkout hands back to the front end
type CheckoutResult struct {
	// CheckoutURL is empty for providers completed by a front-end SDK
	CheckoutURL string `json:"checkout_url"`
	Provider    string `json:"provider"`
	SessionID   string `json:"session_id,omitempty"`
	ClientKey   string `json:"client_key,omitempty"`
}

// ChargeRequest describes one charge against a billing key
type ChargeRequest struct {
	BillingKey  string
	CustomerKey string
	Amount      int64
	OrderID     string
	OrderName   string
}

// ChargeResult is the provider's answer to a charge
type ChargeResult struct {
	PaymentKey  string          `json:"payment_key"`
	OrderID     string          `json:"order_id"`
	Status      string          `json:"status"`
	TotalAmount int64           `json:"total_amount"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}
