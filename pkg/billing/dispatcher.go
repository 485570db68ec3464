package billing

import (
	"context"
	"fmt"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// Outcome describes what Apply did with an event
type Outcome string

const (
	// OutcomeApplied means the event changed state or was logged
	OutcomeApplied Outcome = "applied"

	// OutcomeIgnored means the event type is outside the normalized vocabulary
	// or carries no customer email
	OutcomeIgnored Outcome = "ignored"

	// OutcomeUnknownUser means the event addressed an email with no user row
	OutcomeUnknownUser Outcome = "unknown_user"
)

// DispatcherConfig holds the optional collaborators of a Dispatcher
type DispatcherConfig struct {
	Logger  auth.Logger
	Metrics Metrics
}

// Dispatcher applies normalized webhook events to users and the audit trail.
// Sequences are not transactional; a failed step is returned so the provider retries,
// and retries converge because tier updates are idempotent.
type Dispatcher struct {
	manager *auth.Manager
	logger  auth.Logger
	metrics Metrics
}

// NewDispatcher creates a dispatcher bound to manager
func NewDispatcher(manager *auth.Manager, config DispatcherConfig) (*Dispatcher, error) {
	if manager == nil {
		return nil, ErrProviderNotConfigured
	}
	if config.Logger == nil {
		config.Logger = &auth.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Dispatcher{
		manager: manager,
		logger:  config.Logger,
		metrics: config.Metrics,
	}, nil
}

// Apply performs the state changes for ev
func (d *Dispatcher) Apply(ctx context.Context, ev *WebhookEvent) (Outcome, error) {
	if ev == nil {
		return OutcomeIgnored, ErrInvalidWebhookPayload
	}

	if !IsKnownEvent(ev.EventType) {
		d.logger.Debug("ignoring webhook event",
			auth.Field{Key: "provider", Value: ev.Provider},
			auth.Field{Key: "event_type", Value: ev.EventType},
		)
		return OutcomeIgnored, nil
	}

	if ev.CustomerEmail == "" {
		d.logger.Warn("webhook event has no customer email",
			auth.Field{Key: "provider", Value: ev.Provider},
			auth.Field{Key: "event_type", Value: ev.EventType},
			auth.Field{Key: "subscription_id", Value: ev.SubscriptionID},
		)
		return OutcomeIgnored, nil
	}

	switch ev.EventType {
	case EventSubscriptionCreated:
		return d.applyCreated(ctx, ev)
	case EventSubscriptionUpdated:
		return d.applyTier(ctx, ev, ev.PlanTier)
	case EventSubscriptionCancelled, EventSubscriptionExpired:
		return d.applyTier(ctx, ev, tier.Free)
	default:
		return d.applyPayment(ctx, ev)
	}
}

func (d *Dispatcher) applyCreated(ctx context.Context, ev *WebhookEvent) (Outcome, error) {
	user, err := d.manager.GetOrCreateUser(ctx, ev.CustomerEmail, ev.Provider)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user: %w", err)
	}
	previous := user.Tier

	updated, err := d.manager.UpdateUserTier(ctx, ev.CustomerEmail, ev.PlanTier, auth.TierUpdate{
		Provider:               auth.NonEmpty(ev.Provider),
		ProviderCustomerID:     auth.NonEmpty(ev.CustomerID),
		ProviderSubscriptionID: auth.NonEmpty(ev.SubscriptionID),
		BillingKey:             auth.NonEmpty(ev.BillingKey),
	})
	if err != nil {
		return "", err
	}
	if updated == nil {
		return "", fmt.Errorf("failed to update tier: %w", auth.ErrUserNotFound)
	}

	d.recordTierChange(ev.Provider, previous, ev.PlanTier)
	if err := d.log(ctx, updated.ID, ev, ev.PlanTier); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// applyTier moves an existing user to t and logs the event with t
func (d *Dispatcher) applyTier(ctx context.Context, ev *WebhookEvent, t tier.Tier) (Outcome, error) {
	user, err := d.manager.GetUserByEmail(ctx, ev.CustomerEmail)
	if err != nil {
		return "", err
	}
	if user == nil {
		d.unknownUser(ev)
		return OutcomeUnknownUser, nil
	}

	updated, err := d.manager.UpdateUserTier(ctx, ev.CustomerEmail, t, auth.TierUpdate{})
	if err != nil {
		return "", err
	}
	if updated == nil {
		d.unknownUser(ev)
		return OutcomeUnknownUser, nil
	}

	d.recordTierChange(ev.Provider, user.Tier, t)
	if err := d.log(ctx, updated.ID, ev, t); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// applyPayment logs the event with the user's current tier
func (d *Dispatcher) applyPayment(ctx context.Context, ev *WebhookEvent) (Outcome, error) {
	user, err := d.manager.GetUserByEmail(ctx, ev.CustomerEmail)
	if err != nil {
		return "", err
	}
	if user == nil {
		d.unknownUser(ev)
		return OutcomeUnknownUser, nil
	}

	if err := d.log(ctx, user.ID, ev, user.Tier); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (d *Dispatcher) log(ctx context.Context, userID string, ev *WebhookEvent, t tier.Tier) error {
	return d.manager.LogSubscriptionEvent(ctx, &auth.SubscriptionEvent{
		UserID:      userID,
		Provider:    ev.Provider,
		EventType:   ev.EventType,
		Tier:        t,
		AmountCents: ev.AmountCents,
		Currency:    ev.Currency,
		RawData:     ev.RawData,
	})
}

func (d *Dispatcher) recordTierChange(provider string, from, to tier.Tier) {
	if from != to {
		d.metrics.RecordTierChange(provider, string(from), string(to))
	}
}

func (d *Dispatcher) unknownUser(ev *WebhookEvent) {
	d.logger.Warn("webhook event for unknown user",
		auth.Field{Key: "provider", Value: ev.Provider},
		auth.Field{Key: "event_type", Value: ev.EventType},
	)
}
