// Package toss implements billing.BillingKeyProvider for Toss Payments.
//
// Toss has no hosted checkout and no subscription object. The front-end SDK
// authorizes a card for a customer key, the service exchanges the resulting
// auth key for a billing key, and an external scheduler charges that key on
// whatever cadence it needs.
package toss

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/billing/internal"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

const (
	providerName    = "toss"
	defaultBaseURL  = "https://api.tosspayments.com/v1"
	signatureHeader = "X-Toss-Signature"
	defaultCurrency = "KRW"
)

// Config extends billing.Config with Toss options. APIKey is the secret key.
type Config struct {
	billing.Config

	// ClientKey is handed to the front-end SDK
	ClientKey string

	// Amounts maps a tier to its monthly charge in KRW
	Amounts map[tier.Tier]int64

	// ServiceBaseURL hosts the service's own billing page, used as the portal
	ServiceBaseURL string

	// Now stamps the billing period of order ids. Defaults to time.Now.
	Now func() time.Time
}

// Provider implements billing.BillingKeyProvider for Toss Payments
type Provider struct {
	config  Config
	client  *internal.APIClient
	metrics billing.Metrics
	logger  auth.Logger
}

var _ billing.BillingKeyProvider = (*Provider)(nil)

// NewProvider creates a Toss Payments provider
func NewProvider(config Config) (*Provider, error) {
	config.APIKey = strings.TrimSpace(config.APIKey)
	if config.APIKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	config.Config = config.Config.WithDefaults(defaultBaseURL)
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	config.ServiceBaseURL = strings.TrimRight(config.ServiceBaseURL, "/")

	authorization := "Basic " + base64.StdEncoding.EncodeToString([]byte(config.APIKey+":"))
	return &Provider{
		config: config,
		client: &internal.APIClient{
			Provider:   providerName,
			BaseURL:    config.BaseURL,
			HTTPClient: config.HTTPClient,
			Metrics:    config.Metrics,
			Authorize: func(req *http.Request) {
				req.Header.Set("Authorization", authorization)
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

// Amount returns the configured monthly charge for t
func (p *Provider) Amount(t tier.Tier) (int64, bool) {
	amount, ok := p.config.Amounts[t]
	return amount, ok && amount > 0
}

// CreateCheckout implements billing.Provider. There is no redirect; the result
// carries a fresh customer key and the client key for the front-end SDK.
func (p *Provider) CreateCheckout(ctx context.Context, t tier.Tier, customerEmail, successURL, cancelURL string) (*billing.CheckoutResult, error) {
	if _, ok := p.Amount(t); !ok {
		p.metrics.RecordCheckout(providerName, string(t), "unknown_tier")
		return nil, fmt.Errorf("%w: %s", billing.ErrUnknownTier, t)
	}

	p.metrics.RecordCheckout(providerName, string(t), "success")
	return &billing.CheckoutResult{
		CheckoutURL: "",
		Provider:    providerName,
		SessionID:   uuid.NewString(),
		ClientKey:   p.config.ClientKey,
	}, nil
}

type issueRequest struct {
	AuthKey     string `json:"authKey"`
	CustomerKey string `json:"customerKey"`
}

type issueResponse struct {
	BillingKey  string `json:"billingKey"`
	CustomerKey string `json:"customerKey"`
}

// IssueBillingKey implements billing.BillingKeyProvider
func (p *Provider) IssueBillingKey(ctx context.Context, customerKey, authKey string) (string, error) {
	if customerKey == "" || authKey == "" {
		return "", fmt.Errorf("customer key and auth key are required")
	}

	var resp issueResponse
	_, err := p.client.Do(ctx, http.MethodPost, "/billing/authorizations/issue", "/billing/authorizations/issue",
		issueRequest{AuthKey: authKey, CustomerKey: customerKey}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to issue billing key: %w", err)
	}
	if resp.BillingKey == "" {
		return "", fmt.Errorf("failed to issue billing key: empty billingKey: %w", billing.ErrProviderAPIError)
	}

	p.logger.Info("toss billing key issued", auth.Field{Key: "customer_key", Value: customerKey})
	return resp.BillingKey, nil
}

type chargeRequest struct {
	CustomerKey string `json:"customerKey"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderName   string `json:"orderName"`
}

type chargeResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
}

// ChargeBilling implements billing.BillingKeyProvider
func (p *Provider) ChargeBilling(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	if req.BillingKey == "" {
		return nil, fmt.Errorf("billing key is required")
	}

	var resp chargeResponse
	raw, err := p.client.Do(ctx, http.MethodPost, "/billing/{billingKey}", "/billing/"+url.PathEscape(req.BillingKey),
		chargeRequest{
			CustomerKey: req.CustomerKey,
			Amount:      req.Amount,
			OrderID:     req.OrderID,
			OrderName:   req.OrderName,
		}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to charge billing key: %w", err)
	}

	return &billing.ChargeResult{
		PaymentKey:  resp.PaymentKey,
		OrderID:     resp.OrderID,
		Status:      resp.Status,
		TotalAmount: resp.TotalAmount,
		Raw:         json.RawMessage(raw),
	}, nil
}

// CancelSubscription implements billing.Provider. Toss keeps no subscription,
// so this only acknowledges; the caller stops its own charge schedule.
func (p *Provider) CancelSubscription(ctx context.Context, subscriptionID string) (bool, error) {
	p.logger.Info("toss subscription cancelled locally",
		auth.Field{Key: "subscription_id", Value: subscriptionID},
	)
	return true, nil
}

// PortalURL implements billing.Provider with the service's own billing page
func (p *Provider) PortalURL(ctx context.Context, customerID string) (string, error) {
	if p.config.ServiceBaseURL == "" {
		return "", billing.ErrProviderNotConfigured
	}
	return p.config.ServiceBaseURL + "/billing?customer=" + url.QueryEscape(customerID), nil
}
