// Package stripe implements billing.Provider on top of stripe-go.
package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

const (
	providerName    = "stripe"
	signatureHeader = "Stripe-Signature"

	sessionIDPlaceholder = "session_id={CHECKOUT_SESSION_ID}"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config

	// Prices maps a tier to the recurring price sold for it
	Prices map[tier.Tier]string

	// PortalReturnURL is where the billing portal sends the customer back to
	PortalReturnURL string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	config        Config
	stripeClient  *stripe.Client
	webhookSecret string
	metrics       billing.Metrics
	logger        auth.Logger
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	baseURL := config.BaseURL
	config.Config = config.Config.WithDefaults(stripe.APIURL)

	backendConfig := &stripe.BackendConfig{
		HTTPClient: config.HTTPClient,
	}
	if baseURL != "" {
		backendConfig.URL = stripe.String(strings.TrimRight(baseURL, "/"))
		backendConfig.MaxNetworkRetries = stripe.Int64(0)
	}

	return &Provider{
		config:        config,
		stripeClient:  stripe.NewClient(apiKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendConfig))),
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
		metrics:       config.Metrics,
		logger:        config.Logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// SignatureHeader implements billing.Provider
func (p *Provider) SignatureHeader() string {
	return signatureHeader
}

// CreateCheckout creates a subscription-mode Checkout Session for the tier's price.
// The tier and email ride along in metadata so later webhooks can be attributed.
func (p *Provider) CreateCheckout(ctx context.Context, t tier.Tier, customerEmail, successURL, cancelURL string) (*billing.CheckoutResult, error) {
	startTime := time.Now()

	priceID := p.config.Prices[t]
	if priceID == "" {
		p.metrics.RecordCheckout(providerName, string(t), "unknown_tier")
		return nil, fmt.Errorf("%w: %s", billing.ErrUnknownTier, t)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(withSessionID(successURL)),
		CancelURL:  stripe.String(cancelURL),
	}
	params.AddMetadata("tier", string(t))

	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata("tier", string(t))
	if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
		params.SubscriptionData.AddMetadata("email", customerEmail)
	}

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	p.recordAPICall("/checkout/sessions", startTime, err)
	if err != nil {
		p.metrics.RecordCheckout(providerName, string(t), "error")
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordCheckout(providerName, string(t), "success")
	return &billing.CheckoutResult{
		CheckoutURL: session.URL,
		Provider:    providerName,
		SessionID:   session.ID,
	}, nil
}

// CancelSubscription schedules cancellation at the end of the current period
func (p *Provider) CancelSubscription(ctx context.Context, subscriptionID string) (bool, error) {
	if subscriptionID == "" {
		return false, fmt.Errorf("subscription id is required")
	}
	startTime := time.Now()

	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	_, err := p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
	p.recordAPICall("/subscriptions/{id}", startTime, err)
	if err != nil {
		return false, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	p.logger.Info("stripe subscription set to cancel at period end",
		auth.Field{Key: "subscription_id", Value: subscriptionID},
	)
	return true, nil
}

// PortalURL creates a Customer Portal Session for a customer id
func (p *Provider) PortalURL(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("customer id is required")
	}
	startTime := time.Now()

	params := &stripe.BillingPortalSessionCreateParams{
		Customer: stripe.String(customerID),
	}
	if p.config.PortalReturnURL != "" {
		params.ReturnURL = stripe.String(p.config.PortalReturnURL)
	}

	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	p.recordAPICall("/billing_portal/sessions", startTime, err)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return session.URL, nil
}

func (p *Provider) recordAPICall(endpoint string, startTime time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAPICall(providerName, endpoint, status)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(startTime))
}

// withSessionID appends the checkout session placeholder Stripe fills in on redirect
func withSessionID(successURL string) string {
	if successURL == "" || strings.Contains(successURL, "{CHECKOUT_SESSION_ID}") {
		return successURL
	}
	if strings.Contains(successURL, "?") {
		return successURL + "&" + sessionIDPlaceholder
	}
	return successURL + "?" + sessionIDPlaceholder
}
