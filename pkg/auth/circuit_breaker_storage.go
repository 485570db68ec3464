package auth

import (
	"context"
	"time"

	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
// While the circuit is open every call fails fast with ErrCircuitOpen, so bearer
// resolution degrades to a quick 500 instead of piling up on a dead pool.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

var _ Storage = (*CircuitBreakerStorage)(nil)

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

func (s *CircuitBreakerStorage) CreateUser(ctx context.Context, email string) (*User, error) {
	var user *User
	err := s.cb.Execute(ctx, func() error {
		var e error
		user, e = s.storage.CreateUser(ctx, email)
		return e
	})
	return user, err
}

func (s *CircuitBreakerStorage) GetUserByID(ctx context.Context, userID string) (*User, error) {
	var user *User
	err := s.cb.Execute(ctx, func() error {
		var e error
		user, e = s.storage.GetUserByID(ctx, userID)
		return e
	})
	return user, err
}

func (s *CircuitBreakerStorage) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := s.cb.Execute(ctx, func() error {
		var e error
		user, e = s.storage.GetUserByEmail(ctx, email)
		return e
	})
	return user, err
}

func (s *CircuitBreakerStorage) UpdateUserTier(ctx context.Context, email string, t tier.Tier, upd TierUpdate) (*User, error) {
	var user *User
	err := s.cb.Execute(ctx, func() error {
		var e error
		user, e = s.storage.UpdateUserTier(ctx, email, t, upd)
		return e
	})
	return user, err
}

func (s *CircuitBreakerStorage) InsertAPIKey(ctx context.Context, key *APIKey, maxActive int) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.InsertAPIKey(ctx, key, maxActive)
	})
}

func (s *CircuitBreakerStorage) LookupAPIKey(ctx context.Context, keyHash string) (*UserInfo, error) {
	var info *UserInfo
	err := s.cb.Execute(ctx, func() error {
		var e error
		info, e = s.storage.LookupAPIKey(ctx, keyHash)
		return e
	})
	return info, err
}

func (s *CircuitBreakerStorage) TouchAPIKey(ctx context.Context, keyID string, at time.Time) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.TouchAPIKey(ctx, keyID, at)
	})
}

func (s *CircuitBreakerStorage) ListAPIKeys(ctx context.Context, userID string) ([]KeySummary, error) {
	var keys []KeySummary
	err := s.cb.Execute(ctx, func() error {
		var e error
		keys, e = s.storage.ListAPIKeys(ctx, userID)
		return e
	})
	return keys, err
}

func (s *CircuitBreakerStorage) RevokeAPIKey(ctx context.Context, userID, keyID string) (bool, error) {
	var revoked bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		revoked, e = s.storage.RevokeAPIKey(ctx, userID, keyID)
		return e
	})
	return revoked, err
}

func (s *CircuitBreakerStorage) AppendSubscriptionEvent(ctx context.Context, ev *SubscriptionEvent) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.AppendSubscriptionEvent(ctx, ev)
	})
}

func (s *CircuitBreakerStorage) ListSubscriptionEvents(ctx context.Context, userID string) ([]SubscriptionEvent, error) {
	var events []SubscriptionEvent
	err := s.cb.Execute(ctx, func() error {
		var e error
		events, e = s.storage.ListSubscriptionEvents(ctx, userID)
		return e
	})
	return events, err
}

// Ping bypasses the breaker so health checks see the real backend state
func (s *CircuitBreakerStorage) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}
