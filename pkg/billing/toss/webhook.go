package toss

import (
	"encoding/json"
	"strings"

	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/billing/internal"
)

const eventPaymentStatusChanged = "PAYMENT_STATUS_CHANGED"

const statusDone = "DONE"

// statusEvents maps PAYMENT_STATUS_CHANGED statuses to the normalized vocabulary
var statusEvents = map[string]string{
	statusDone: billing.EventPaymentSuccess,
	"CANCELED": billing.EventSubscriptionCancelled,
	"ABORTED":  billing.EventPaymentFailed,
}

type webhookPayload struct {
	EventType string `json:"eventType"`
	CreatedAt string `json:"createdAt"`
	Data      struct {
		PaymentKey    string `json:"paymentKey"`
		OrderID       string `json:"orderId"`
		Status        string `json:"status"`
		BillingKey    string `json:"billingKey"`
		CustomerKey   string `json:"customerKey"`
		CustomerEmail string `json:"customerEmail"`
		TotalAmount   *int64 `json:"totalAmount"`
		Currency      string `json:"currency"`
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
	if body.EventType == "" {
		return nil, billing.ErrInvalidWebhookPayload
	}

	eventType := body.EventType
	if eventType == eventPaymentStatusChanged {
		if mapped, ok := statusEvents[body.Data.Status]; ok {
			eventType = mapped
		}
	}

	data := body.Data
	subscriptionID := data.BillingKey
	if subscriptionID == "" {
		subscriptionID = data.OrderID
	}
	currency := strings.ToUpper(data.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	return &billing.WebhookEvent{
		Provider:        providerName,
		EventType:       eventType,
		CustomerEmail:   strings.TrimSpace(data.CustomerEmail),
		PlanTier:        OrderTier(data.OrderID),
		SubscriptionID:  subscriptionID,
		CustomerID:      data.CustomerKey,
		BillingKey:      data.BillingKey,
		ProviderEventID: data.PaymentKey,
		AmountCents:     data.TotalAmount, // whole won
		Currency:        currency,
		RawData:         json.RawMessage(payload),
	}, nil
}
