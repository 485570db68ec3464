package api

import (
	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// RegisterRequest is the body of POST /v1/register
type RegisterRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// RegisterResponse carries the only copy of the raw key the caller will ever see
type RegisterResponse struct {
	UserID string    `json:"user_id"`
	Email  string    `json:"email"`
	Tier   tier.Tier `json:"tier"`
	APIKey string    `json:"api_key"`
}

// MeResponse describes the authenticated caller
type MeResponse struct {
	UserID   string     `json:"user_id"`
	Email    string     `json:"email"`
	Tier     tier.Tier  `json:"tier"`
	Limits   LimitsView `json:"limits"`
	NextTier tier.Tier  `json:"next_tier"`
	Provider *string    `json:"provider,omitempty"`
}

// LimitsView is the JSON form of tier.Limits. -1 means unlimited.
type LimitsView struct {
	MaxMemories int `json:"max_memories"`
	MaxAgents   int `json:"max_agents"`
	RateLimit   int `json:"rate_limit"`
	MaxAPIKeys  int `json:"max_api_keys"`
}

// CreateKeyRequest is the body of POST /v1/keys
type CreateKeyRequest struct {
	Name string `json:"name" validate:"max=100"`
}

// CreateKeyResponse returns the new key once
type CreateKeyResponse struct {
	Key    auth.KeySummary `json:"key"`
	APIKey string          `json:"api_key"`
}

// KeysResponse lists every key of the caller, newest first
type KeysResponse struct {
	Keys []auth.KeySummary `json:"keys"`
}

// RevokeResponse is the answer to DELETE /v1/keys/{id}
type RevokeResponse struct {
	Revoked bool `json:"revoked"`
}

// CheckoutRequest is the body of POST /v1/billing/checkout
type CheckoutRequest struct {
	Tier       string `json:"tier" validate:"required,paidtier"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

// SubscribeRequest is the body of POST /v1/billing/subscribe
type SubscribeRequest struct {
	Tier        string `json:"tier" validate:"required,paidtier"`
	CustomerKey string `json:"customer_key" validate:"required,max=300"`
	AuthKey     string `json:"auth_key" validate:"required,max=300"`
}

// SubscriptionResponse reports the caller's state after a billing action
type SubscriptionResponse struct {
	Tier           tier.Tier `json:"tier"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	Cancelled      bool      `json:"cancelled,omitempty"`
}

// PortalResponse carries the provider's self-service URL
type PortalResponse struct {
	URL string `json:"url"`
}

// EventsResponse lists the caller's subscription audit trail, oldest first
type EventsResponse struct {
	Events []auth.SubscriptionEvent `json:"events"`
}

func limitsView(l tier.Limits) LimitsView {
	return LimitsView{
		MaxMemories: l.MaxMemories,
		MaxAgents:   l.MaxAgents,
		RateLimit:   l.RateLimit,
		MaxAPIKeys:  l.MaxAPIKeys,
	}
}
