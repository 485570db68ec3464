package stripe

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// eventTypes maps Stripe event types to the normalized vocabulary
var eventTypes = map[stripe.EventType]string{
	"checkout.session.completed":    billing.EventSubscriptionCreated,
	"invoice.paid":                  billing.EventPaymentSuccess,
	"invoice.payment_failed":        billing.EventPaymentFailed,
	"customer.subscription.updated": billing.EventSubscriptionUpdated,
	"customer.subscription.deleted": billing.EventSubscriptionExpired,
}

type checkoutSession struct {
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Customer     json.RawMessage   `json:"customer"`
	Subscription json.RawMessage   `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	AmountTotal  *int64            `json:"amount_total"`
	Currency     string            `json:"currency"`
}

type invoice struct {
	CustomerEmail string          `json:"customer_email"`
	Customer      json.RawMessage `json:"customer"`
	Subscription  json.RawMessage `json:"subscription"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
	AmountPaid *int64 `json:"amount_paid"`
	AmountDue  *int64 `json:"amount_due"`
	Currency   string `json:"currency"`
}

type subscription struct {
	ID       string            `json:"id"`
	Customer json.RawMessage   `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

// VerifyWebhook implements billing.Provider using Stripe's signed header scheme
func (p *Provider) VerifyWebhook(payload []byte, signature string) (*billing.WebhookEvent, error) {
	if p.webhookSecret == "" {
		return nil, billing.ErrInvalidWebhookSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, billing.ErrInvalidWebhookSignature
		}
		return nil, billing.ErrInvalidWebhookPayload
	}
	if event.Data == nil {
		return nil, billing.ErrInvalidWebhookPayload
	}

	ev := &billing.WebhookEvent{
		Provider:        providerName,
		EventType:       string(event.Type),
		PlanTier:        tier.Pro,
		ProviderEventID: event.ID,
		RawData:         json.RawMessage(payload),
	}
	if mapped, ok := eventTypes[event.Type]; ok {
		ev.EventType = mapped
	}

	switch event.Type {
	case "checkout.session.completed":
		var s checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, billing.ErrInvalidWebhookPayload
		}
		ev.CustomerEmail = s.CustomerEmail
		if ev.CustomerEmail == "" && s.CustomerDetails != nil {
			ev.CustomerEmail = s.CustomerDetails.Email
		}
		ev.PlanTier = planTier(s.Metadata["tier"])
		ev.SubscriptionID = objectID(s.Subscription)
		ev.CustomerID = objectID(s.Customer)
		ev.AmountCents = s.AmountTotal
		ev.Currency = strings.ToUpper(s.Currency)

	case "invoice.paid", "invoice.payment_failed":
		var inv invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, billing.ErrInvalidWebhookPayload
		}
		ev.CustomerEmail = inv.CustomerEmail
		ev.SubscriptionID = objectID(inv.Subscription)
		var tierName string
		if len(inv.Lines.Data) > 0 {
			tierName = inv.Lines.Data[0].Metadata["tier"]
		}
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
			details := inv.Parent.SubscriptionDetails
			if ev.SubscriptionID == "" {
				ev.SubscriptionID = objectID(details.Subscription)
			}
			if tierName == "" {
				tierName = details.Metadata["tier"]
			}
		}
		ev.PlanTier = planTier(tierName)
		ev.CustomerID = objectID(inv.Customer)
		ev.AmountCents = inv.AmountPaid
		if event.Type == "invoice.payment_failed" {
			ev.AmountCents = inv.AmountDue
		}
		ev.Currency = strings.ToUpper(inv.Currency)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, billing.ErrInvalidWebhookPayload
		}
		ev.SubscriptionID = sub.ID
		ev.CustomerEmail = sub.Metadata["email"]
		ev.PlanTier = planTier(sub.Metadata["tier"])
		ev.CustomerID = objectID(sub.Customer)
	}

	ev.CustomerEmail = strings.TrimSpace(ev.CustomerEmail)
	return ev, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

func planTier(s string) tier.Tier {
	t, ok := tier.Parse(s)
	if !ok || t == tier.Free {
		return tier.Pro
	}
	return t
}

// objectID reads an expandable field, which is either an id string or an object with an id
func objectID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
