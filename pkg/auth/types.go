package auth

import (
	"encoding/json"
	"time"

	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

const (
	// DefaultKeyName labels the key minted at registration.
	DefaultKeyName = "Default"

	// UnnamedKeyName labels keys created without a name.
	UnnamedKeyName = "Unnamed"

	// DefaultCurrency is used for subscription events that do not specify one.
	DefaultCurrency = "USD"
)

// User is the identity record. Provider correlation fields are nil until the
// subscription lifecycle fills them in.
type User struct {
	ID                     string    `json:"id"`
	Email                  string    `json:"email"`
	Tier                   tier.Tier `json:"tier"`
	Provider               *string   `json:"provider,omitempty"`
	ProviderCustomerID     *string   `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID *string   `json:"provider_subscription_id,omitempty"`
	BillingKey             *string   `json:"-"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Info returns the caller-facing projection of u.
func (u *User) Info() *UserInfo {
	return &UserInfo{UserID: u.ID, Email: u.Email, Tier: u.Tier}
}

// UserInfo is what bearer resolution hands back to request handlers.
type UserInfo struct {
	UserID string    `json:"user_id"`
	Email  string    `json:"email"`
	Tier   tier.Tier `json:"tier"`

	// KeyID is the key that resolved this identity, when there is one.
	KeyID string `json:"key_id,omitempty"`
}

// APIKey is the persisted form of a bearer credential. The raw key is never stored.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	KeyHash    string     `json:"-"` // SHA-256 hex, never exposed
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Summary drops everything but the listable fields.
func (k *APIKey) Summary() KeySummary {
	return KeySummary{
		ID:         k.ID,
		Prefix:     k.KeyPrefix,
		Name:       k.Name,
		IsActive:   k.IsActive,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// KeySummary is the listable view of a key. It has no hash field by construction.
type KeySummary struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SubscriptionEvent is one append-only audit row.
// AmountCents is in the minor unit of Currency; KRW rows hold whole won.
type SubscriptionEvent struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Provider    string          `json:"provider"`
	EventType   string          `json:"event_type"`
	Tier        tier.Tier       `json:"tier"`
	AmountCents *int64          `json:"amount_cents,omitempty"`
	Currency    string          `json:"currency"`
	RawData     json.RawMessage `json:"raw_data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TierUpdate carries the optional correlation fields of a tier change.
// A nil field keeps the stored value; a non-nil field overwrites it.
type TierUpdate struct {
	Provider               *string
	ProviderCustomerID     *string
	ProviderSubscriptionID *string
	BillingKey             *string
}

// NonEmpty returns &s, or nil when s is empty. Handy for building a TierUpdate
// from provider payloads where "missing" arrives as "".
func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
