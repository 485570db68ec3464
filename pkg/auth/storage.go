package auth

import (
	"context"
	"time"

	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// Storage defines the persistence contract for users, keys and subscription events.
// Every method runs on a single pooled connection; none spans another call.
type Storage interface {
	// CreateUser inserts a user with the default tier, or returns the existing
	// row when the email is already registered.
	CreateUser(ctx context.Context, email string) (*User, error)

	// GetUserByID returns ErrUserNotFound on a miss
	GetUserByID(ctx context.Context, userID string) (*User, error)

	// GetUserByEmail returns ErrUserNotFound on a miss
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateUserTier sets the tier and overwrites only the non-nil fields of upd.
	// Returns the updated row, or ErrUserNotFound.
	UpdateUserTier(ctx context.Context, email string, t tier.Tier, upd TierUpdate) (*User, error)

	// InsertAPIKey stores key if the owner has fewer than maxActive active keys
	// (tier.Unlimited disables the check). The count and the insert are atomic.
	// Fills in key.ID and key.CreatedAt.
	// Returns ErrUserNotFound or ErrQuotaExceeded.
	InsertAPIKey(ctx context.Context, key *APIKey, maxActive int) error

	// LookupAPIKey resolves an active key hash to its owner.
	// Returns ErrKeyNotFound for unknown or revoked keys.
	LookupAPIKey(ctx context.Context, keyHash string) (*UserInfo, error)

	// TouchAPIKey records a successful use. The stored value never moves backwards.
	TouchAPIKey(ctx context.Context, keyID string, at time.Time) error

	// ListAPIKeys returns every key of the user, newest first
	ListAPIKeys(ctx context.Context, userID string) ([]KeySummary, error)

	// RevokeAPIKey deactivates an active key owned by userID.
	// Returns false when nothing changed.
	RevokeAPIKey(ctx context.Context, userID, keyID string) (bool, error)

	// AppendSubscriptionEvent adds one audit row. Fills in ev.ID and ev.CreatedAt.
	AppendSubscriptionEvent(ctx context.Context, ev *SubscriptionEvent) error

	// ListSubscriptionEvents returns the audit trail of a user, oldest first
	ListSubscriptionEvents(ctx context.Context, userID string) ([]SubscriptionEvent, error)

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error
}
