// Package lemonsqueezy implements billing.Provider for Lemon Squeezy, the
// merchant-of-record provider and the default for new deployments.
package lemonsqueezy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/billing/internal"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

const (
	providerName    = "lemonsqueezy"
	defaultBaseURL  = "https://api.lemonsqueezy.com/v1"
	jsonAPI         = "application/vnd.api+json"
	signatureHeader = "X-Signature"
)

// Config extends billing.Config with Lemon Squeezy options
type Config struct {
	billing.Config

	// StoreID is the store that owns the variants
	StoreID string

	// Variants maps a tier to the variant sold for it
	Variants map[tier.Tier]string
}

// Provider implements billing.Provider for Lemon Squeezy
type Provider struct {
	config  Config
	client  *internal.APIClient
	metrics billing.Metrics
	logger  auth.Logger
}

var (
	_ billing.Provider           = (*Provider)(nil)
	_ billing.SubscriptionPortal = (*Provider)(nil)
)

// NewProvider creates a Lemon Squeezy provider
func NewProvider(config Config) (*Provider, error) {
	config.APIKey = strings.TrimSpace(config.APIKey)
	if config.APIKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	config.Config = config.Config.WithDefaults(defaultBaseURL)
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	apiKey := config.APIKey
	return &Provider{
		config: config,
		client: &internal.APIClient{
			Provider:    providerName,
			BaseURL:     config.BaseURL,
			HTTPClient:  config.HTTPClient,
			Metrics:     config.Metrics,
			ContentType: jsonAPI,
			Authorize: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+apiKey)
			},
		},
		metrics: config.Metrics,
		logger:  config.Logger,
	}, nil
}

// Name implements billing.Provider
func (p *Provider) Name() string {
	return providerName
}

// SignatureHeader implements billing.Provider
func (p *Provider) SignatureHeader() string {
	return signatureHeader
}

type resource struct {
	Type          string                 `json:"type"`
	ID            string                 `json:"id,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	Relationships map[string]relation    `json:"relationships,omitempty"`
}

type relation struct {
	Data resource `json:"data"`
}

type document struct {
	Data resource `json:"data"`
}

type checkoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
}

// CreateCheckout implements billing.Provider
func (p *Provider) CreateCheckout(ctx context.Context, t tier.Tier, customerEmail, successURL, cancelURL string) (*billing.CheckoutResult, error) {
	variant, ok := p.config.Variants[t]
	if !ok || variant == "" {
		p.metrics.RecordCheckout(providerName, string(t), "unknown_tier")
		return nil, fmt.Errorf("%w: %s", billing.ErrUnknownTier, t)
	}

	checkoutData := map[string]interface{}{
		"custom": map[string]string{"tier": string(t)},
	}
	if customerEmail != "" {
		checkoutData["email"] = customerEmail
	}

	req := document{Data: resource{
		Type: "checkouts",
		Attributes: map[string]interface{}{
			"checkout_data": checkoutData,
			"product_options": map[string]interface{}{
				"redirect_url": successURL,
			},
		},
		Relationships: map[string]relation{
			"store":   {Data: resource{Type: "stores", ID: p.config.StoreID}},
			"variant": {Data: resource{Type: "variants", ID: variant}},
		},
	}}

	var resp checkoutResponse
	if _, err := p.client.Do(ctx, http.MethodPost, "/checkouts", "/checkouts", req, &resp); err != nil {
		p.metrics.RecordCheckout(providerName, string(t), "error")
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}

	p.metrics.RecordCheckout(providerName, string(t), "success")
	return &billing.CheckoutResult{
		CheckoutURL: resp.Data.Attributes.URL,
		Provider:    providerName,
		SessionID:   resp.Data.ID,
	}, nil
}

// CancelSubscription implements billing.Provider. Lemon Squeezy cancels at
// the end of the current period.
func (p *Provider) CancelSubscription(ctx context.Context, subscriptionID string) (bool, error) {
	if subscriptionID == "" {
		return false, fmt.Errorf("subscription id is required")
	}

	path := "/subscriptions/" + url.PathEscape(subscriptionID)
	if _, err := p.client.Do(ctx, http.MethodDelete, "/subscriptions/{id}", path, nil, nil); err != nil {
		var perr *billing.ProviderError
		if errors.As(err, &perr) {
			p.logger.Warn("lemonsqueezy cancel rejected",
				auth.Field{Key: "subscription_id", Value: subscriptionID},
				auth.Field{Key: "status", Value: perr.StatusCode},
			)
		}
		return false, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return true, nil
}

type subscriptionResponse struct {
	Data struct {
		Attributes struct {
			URLs struct {
				CustomerPortal      string `json:"customer_portal"`
				UpdatePaymentMethod string `json:"update_payment_method"`
			} `json:"urls"`
		} `json:"attributes"`
	} `json:"data"`
}

// PortalKeyedBySubscription implements billing.SubscriptionPortal
func (p *Provider) PortalKeyedBySubscription() bool {
	return true
}

// PortalURL implements billing.Provider. The argument is a subscription id.
func (p *Provider) PortalURL(ctx context.Context, subscriptionID string) (string, error) {
	if subscriptionID == "" {
		return "", fmt.Errorf("subscription id is required")
	}

	var resp subscriptionResponse
	path := "/subscriptions/" + url.PathEscape(subscriptionID)
	if _, err := p.client.Do(ctx, http.MethodGet, "/subscriptions/{id}", path, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to get subscription: %w", err)
	}

	urls := resp.Data.Attributes.URLs
	if urls.CustomerPortal != "" {
		return urls.CustomerPortal, nil
	}
	return urls.UpdatePaymentMethod, nil
}
