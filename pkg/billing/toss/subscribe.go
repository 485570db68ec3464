package toss

import (
	"context"
	"fmt"
	"time"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/billing"
)

var _ billing.Subscriber = (*Provider)(nil)

// Subscribe exchanges the auth key for a billing key, runs the first monthly
// charge and returns the subscription_created event for it. Nothing is
// persisted here; the caller hands the event to a billing.Dispatcher.
func (p *Provider) Subscribe(ctx context.Context, req billing.SubscribeRequest) (*billing.WebhookEvent, error) {
	amount, ok := p.Amount(req.Tier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", billing.ErrUnknownTier, req.Tier)
	}
	if req.Email == "" {
		return nil, auth.ErrInvalidEmail
	}

	billingKey, err := p.IssueBillingKey(ctx, req.CustomerKey, req.AuthKey)
	if err != nil {
		return nil, err
	}

	charge, err := p.ChargeBilling(ctx, billing.ChargeRequest{
		BillingKey:  billingKey,
		CustomerKey: req.CustomerKey,
		Amount:      amount,
		OrderID:     OrderID(req.Tier, req.UserID, p.now()),
		OrderName:   OrderName(req.Tier),
	})
	if err != nil {
		return nil, err
	}
	if charge.Status != statusDone {
		return nil, fmt.Errorf("first charge not completed (status %q): %w", charge.Status, billing.ErrProviderAPIError)
	}

	total := charge.TotalAmount
	if total == 0 {
		total = amount
	}

	return &billing.WebhookEvent{
		Provider:        providerName,
		EventType:       billing.EventSubscriptionCreated,
		CustomerEmail:   req.Email,
		PlanTier:        req.Tier,
		SubscriptionID:  billingKey,
		CustomerID:      req.CustomerKey,
		BillingKey:      billingKey,
		ProviderEventID: charge.PaymentKey,
		AmountCents:     &total, // whole won
		Currency:        defaultCurrency,
		RawData:         charge.Raw,
	}, nil
}

func (p *Provider) now() time.Time {
	if p.config.Now != nil {
		return p.config.Now()
	}
	return time.Now()
}
