package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellar-memory/stellar-auth/pkg/apikey"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// Config holds the manager configuration
type Config struct {
	// Policy is the tier table used for key quotas. Defaults to tier.DefaultPolicy().
	Policy tier.Policy

	// Logger is optional. Defaults to NoopLogger.
	Logger Logger

	// Metrics is optional. Defaults to NoopMetrics.
	Metrics Metrics

	// Now is the clock used for last_used_at stamps. Defaults to time.Now.
	Now func() time.Time
}

// Manager issues and resolves API keys and maintains user tiers
type Manager struct {
	storage Storage
	config  Config
}

// NewManager creates a new auth manager with the given storage and configuration
func NewManager(storage Storage, config Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	if config.Policy == nil {
		config.Policy = tier.DefaultPolicy()
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Manager{
		storage: storage,
		config:  config,
	}, nil
}

// Limits returns the policy row for t
func (m *Manager) Limits(t tier.Tier) tier.Limits {
	return m.config.Policy.Limits(t)
}

// RegisterUser creates the user if needed and mints a key named "Default".
// The raw key is returned once and never stored.
func (m *Manager) RegisterUser(ctx context.Context, email string) (*UserInfo, string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, "", ErrInvalidEmail
	}

	start := time.Now()
	user, err := m.storage.CreateUser(ctx, email)
	m.config.Metrics.RecordStorageOperation("create_user", time.Since(start), err)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	key, raw, err := m.issueKey(ctx, user, DefaultKeyName)
	if err != nil {
		return nil, "", err
	}

	m.config.Logger.Info("user registered",
		Field{"user_id", user.ID},
		Field{"key_prefix", key.KeyPrefix},
	)

	info := user.Info()
	info.KeyID = key.ID
	return info, raw, nil
}

// GetUserByAPIKey resolves a key hash to its owner. Returns nil, nil when no
// active key matches. A hit stamps last_used_at; a failed stamp is logged and
// does not fail the lookup.
func (m *Manager) GetUserByAPIKey(ctx context.Context, keyHash string) (*UserInfo, error) {
	start := time.Now()
	info, err := m.storage.LookupAPIKey(ctx, keyHash)
	m.config.Metrics.RecordStorageOperation("lookup_api_key", time.Since(start), err)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	if err := m.storage.TouchAPIKey(ctx, info.KeyID, m.config.Now().UTC()); err != nil {
		m.config.Logger.Warn("failed to update last_used_at",
			Field{"key_id", info.KeyID},
			ErrorField(err),
		)
	}

	return info, nil
}

// Authenticate resolves a raw bearer. Malformed bearers are rejected without a
// storage round trip.
func (m *Manager) Authenticate(ctx context.Context, bearer string) (*UserInfo, error) {
	if !apikey.Valid(bearer) {
		m.config.Metrics.RecordAuthentication("invalid_format")
		return nil, ErrUnauthorized
	}

	info, err := m.GetUserByAPIKey(ctx, apikey.Hash(bearer))
	if err != nil {
		m.config.Metrics.RecordAuthentication("error")
		return nil, err
	}
	if info == nil {
		m.config.Metrics.RecordAuthentication("unknown_key")
		return nil, ErrUnauthorized
	}

	m.config.Metrics.RecordAuthentication("success")
	return info, nil
}

// ListAPIKeys returns every key of the user, active and revoked, newest first
func (m *Manager) ListAPIKeys(ctx context.Context, userID string) ([]KeySummary, error) {
	keys, err := m.storage.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// CreateAPIKey mints an additional key for an existing user.
// Returns ErrUserNotFound or ErrQuotaExceeded.
func (m *Manager) CreateAPIKey(ctx context.Context, userID, name string) (*KeySummary, string, error) {
	user, err := m.storage.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrUserNotFound
		}
		return nil, "", fmt.Errorf("failed to get user: %w", err)
	}

	if strings.TrimSpace(name) == "" {
		name = UnnamedKeyName
	}

	key, raw, err := m.issueKey(ctx, user, name)
	if err != nil {
		return nil, "", err
	}

	summary := key.Summary()
	return &summary, raw, nil
}

// RevokeAPIKey deactivates a key owned by userID. A second call returns false.
func (m *Manager) RevokeAPIKey(ctx context.Context, userID, keyID string) (bool, error) {
	start := time.Now()
	revoked, err := m.storage.RevokeAPIKey(ctx, userID, keyID)
	m.config.Metrics.RecordStorageOperation("revoke_api_key", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}

	if revoked {
		m.config.Metrics.RecordKeyRevoked()
		m.config.Logger.Info("api key revoked", Field{"user_id", userID}, Field{"key_id", keyID})
	}
	return revoked, nil
}

// GetUser returns the user with the given id, or nil, nil
func (m *Manager) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := m.storage.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail returns the user with the given email, or nil, nil
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	user, err := m.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// UpdateUserTier sets the tier of the user with the given email. Nil fields of
// upd keep their stored values. Returns nil, nil for an unknown email.
func (m *Manager) UpdateUserTier(ctx context.Context, email string, t tier.Tier, upd TierUpdate) (*User, error) {
	start := time.Now()
	user, err := m.storage.UpdateUserTier(ctx, email, t, upd)
	m.config.Metrics.RecordStorageOperation("update_user_tier", time.Since(start), err)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update user tier: %w", err)
	}

	m.config.Logger.Info("user tier updated",
		Field{"user_id", user.ID},
		Field{"tier", string(t)},
	)
	return user, nil
}

// GetOrCreateUser returns the existing user or registers a new one stamped with
// provider. The key minted by registration is discarded.
func (m *Manager) GetOrCreateUser(ctx context.Context, email, provider string) (*User, error) {
	user, err := m.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	if _, _, err := m.RegisterUser(ctx, email); err != nil {
		return nil, err
	}

	user, err = m.UpdateUserTier(ctx, email, tier.Free, TierUpdate{Provider: NonEmpty(provider)})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// LogSubscriptionEvent appends one audit row. Currency defaults to USD.
func (m *Manager) LogSubscriptionEvent(ctx context.Context, ev *SubscriptionEvent) error {
	if ev.Currency == "" {
		ev.Currency = DefaultCurrency
	}

	start := time.Now()
	err := m.storage.AppendSubscriptionEvent(ctx, ev)
	m.config.Metrics.RecordStorageOperation("append_subscription_event", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to log subscription event: %w", err)
	}
	return nil
}

// ListSubscriptionEvents returns the audit trail of a user, oldest first
func (m *Manager) ListSubscriptionEvents(ctx context.Context, userID string) ([]SubscriptionEvent, error) {
	events, err := m.storage.ListSubscriptionEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription events: %w", err)
	}
	return events, nil
}

// Ping checks the storage backend
func (m *Manager) Ping(ctx context.Context) error {
	return m.storage.Ping(ctx)
}

func (m *Manager) issueKey(ctx context.Context, user *User, name string) (*APIKey, string, error) {
	raw, err := apikey.Generate()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate api key: %w", err)
	}

	key := &APIKey{
		UserID:    user.ID,
		KeyHash:   apikey.Hash(raw),
		KeyPrefix: apikey.Prefix(raw),
		Name:      name,
		IsActive:  true,
	}

	start := time.Now()
	err = m.storage.InsertAPIKey(ctx, key, m.config.Policy.MaxAPIKeys(user.Tier))
	m.config.Metrics.RecordStorageOperation("insert_api_key", time.Since(start), err)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			m.config.Metrics.RecordQuotaRejection(string(user.Tier))
			return nil, "", ErrQuotaExceeded
		case errors.Is(err, ErrUserNotFound):
			return nil, "", ErrUserNotFound
		}
		return nil, "", fmt.Errorf("failed to insert api key: %w", err)
	}

	m.config.Metrics.RecordKeyIssued(string(user.Tier))
	return key, raw, nil
}
