package lemonsqueezy

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/billing/internal"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// eventTypes maps Lemon Squeezy event names to the normalized vocabulary
var eventTypes = map[string]string{
	"subscription_created":         billing.EventSubscriptionCreated,
	"subscription_updated":         billing.EventSubscriptionUpdated,
	"subscription_resumed":         billing.EventSubscriptionUpdated,
	"subscription_cancelled":       billing.EventSubscriptionCancelled,
	"subscription_expired":         billing.EventSubscriptionExpired,
	"subscription_payment_success": billing.EventPaymentSuccess,
	"subscription_payment_failed":  billing.EventPaymentFailed,
}

// webhookPayload is the subset of a Lemon Squeezy webhook we read
type webhookPayload struct {
	Meta struct {
		EventName  string          `json:"event_name"`
		WebhookID  string          `json:"webhook_id"`
		CustomData json.RawMessage `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			UserEmail      string          `json:"user_email"`
			CustomerID     json.RawMessage `json:"customer_id"`
			SubscriptionID json.RawMessage `json:"subscription_id"`
			Total          *int64          `json:"total"`
			Currency       string          `json:"currency"`
		} `json:"attributes"`
	} `json:"data"`
}

// VerifyWebhook implements billing.Provider
func (p *Provider) VerifyWebhook(payload []byte, signature string) (*billing.WebhookEvent, error) {
	if !internal.VerifyHexHMAC([]byte(p.config.WebhookSecret), payload, signature) {
		return nil, billing.ErrInvalidWebhookSignature
	}

	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, billing.ErrInvalidWebhookPayload
	}
	if body.Meta.EventName == "" {
		return nil, billing.ErrInvalidWebhookPayload
	}

	eventType, ok := eventTypes[body.Meta.EventName]
	if !ok {
		eventType = body.Meta.EventName
	}

	attrs := body.Data.Attributes
	subscriptionID := body.Data.ID
	// invoices point at their subscription
	if body.Data.Type == "subscription-invoices" {
		if id := rawID(attrs.SubscriptionID); id != "" {
			subscriptionID = id
		}
	}

	return &billing.WebhookEvent{
		Provider:        providerName,
		EventType:       eventType,
		CustomerEmail:   strings.TrimSpace(attrs.UserEmail),
		PlanTier:        planTier(customString(body.Meta.CustomData, "tier")),
		SubscriptionID:  subscriptionID,
		CustomerID:      rawID(attrs.CustomerID),
		ProviderEventID: body.Meta.WebhookID,
		AmountCents:     attrs.Total,
		Currency:        strings.ToUpper(attrs.Currency),
		RawData:         json.RawMessage(payload),
	}, nil
}

// planTier reads the tier embedded at checkout, defaulting to pro
func planTier(s string) tier.Tier {
	t, ok := tier.Parse(s)
	if !ok || t == tier.Free {
		return tier.Pro
	}
	return t
}

// customString reads one string value from checkout custom data. Values of
// other types, and custom data that is not an object, read as "".
func customString(raw json.RawMessage, key string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		return ""
	}
	return s
}

// rawID accepts ids sent either as JSON numbers or strings
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String()
		}
	}
	return ""
}
