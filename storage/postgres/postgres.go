// Package postgres provides a PostgreSQL implementation of the auth.Storage interface.
// API key quota is enforced inside a transaction holding SELECT FOR UPDATE on the owner row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// Schema is the canonical DDL. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email TEXT UNIQUE NOT NULL,
    tier TEXT NOT NULL DEFAULT 'free',
    provider TEXT,
    provider_customer_id TEXT,
    provider_subscription_id TEXT,
    billing_key TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    key_hash CHAR(64) NOT NULL,
    key_prefix TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT 'Default',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    last_used_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscription_events (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL REFERENCES users(id),
    provider TEXT NOT NULL,
    event_type TEXT NOT NULL,
    tier TEXT NOT NULL,
    amount_cents BIGINT,
    currency CHAR(3) NOT NULL DEFAULT 'USD',
    raw_data JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_subscription_events_user ON subscription_events(user_id);
`

const userColumns = `id::text, email, tier, provider, provider_customer_id,
	provider_subscription_id, billing_key, created_at, updated_at`

// Storage implements auth.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Bootstrap runs Schema when the storage is created
	Bootstrap bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		Bootstrap:       true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{
		pool:   pool,
		config: config,
	}

	if config.Bootstrap {
		if err := s.Bootstrap(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// Bootstrap creates the tables and indexes if they do not exist
func (s *Storage) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateUser implements auth.Storage
func (s *Storage) CreateUser(ctx context.Context, email string) (*auth.User, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (email, tier) VALUES ($1, $2)
			ON CONFLICT (email) DO NOTHING`,
		email, string(tier.Free))
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return s.GetUserByEmail(ctx, email)
}

// GetUserByID implements auth.Storage
func (s *Storage) GetUserByID(ctx context.Context, userID string) (*auth.User, error) {
	if !validID(userID) {
		return nil, auth.ErrUserNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// GetUserByEmail implements auth.Storage
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// UpdateUserTier implements auth.Storage with COALESCE semantics on the optional fields
func (s *Storage) UpdateUserTier(ctx context.Context, email string, t tier.Tier, upd auth.TierUpdate) (*auth.User, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE users SET
				tier = $2,
				provider = COALESCE($3, provider),
				provider_customer_id = COALESCE($4, provider_customer_id),
				provider_subscription_id = COALESCE($5, provider_subscription_id),
				billing_key = COALESCE($6, billing_key),
				updated_at = now()
			WHERE email = $1
			RETURNING `+userColumns,
		email, string(t), upd.Provider, upd.ProviderCustomerID, upd.ProviderSubscriptionID, upd.BillingKey)
	return scanUser(row)
}

// InsertAPIKey implements auth.Storage. The owner row is locked for the duration
// of the count and the insert, so concurrent inserts for one user serialize.
func (s *Storage) InsertAPIKey(ctx context.Context, key *auth.APIKey, maxActive int) error {
	if !validID(key.UserID) {
		return auth.ErrUserNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	var locked string
	err = tx.QueryRow(ctx,
		`SELECT id::text FROM users WHERE id = $1 FOR UPDATE`, key.UserID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.ErrUserNotFound
		}
		return fmt.Errorf("failed to lock user: %w", err)
	}

	if maxActive != tier.Unlimited {
		var active int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND is_active`, key.UserID).Scan(&active)
		if err != nil {
			return fmt.Errorf("failed to count active keys: %w", err)
		}
		if active >= maxActive {
			return auth.ErrQuotaExceeded
		}
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO api_keys (user_id, key_hash, key_prefix, name, is_active)
			VALUES ($1, $2, $3, $4, TRUE)
			RETURNING id::text, created_at`,
		key.UserID, key.KeyHash, key.KeyPrefix, key.Name).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	key.IsActive = true
	return nil
}

// LookupAPIKey implements auth.Storage
func (s *Storage) LookupAPIKey(ctx context.Context, keyHash string) (*auth.UserInfo, error) {
	var info auth.UserInfo
	var t string

	err := s.pool.QueryRow(ctx,
		`SELECT u.id::text, u.email, u.tier, k.id::text
			FROM api_keys k
			JOIN users u ON u.id = k.user_id
			WHERE k.key_hash = $1 AND k.is_active`,
		keyHash).Scan(&info.UserID, &info.Email, &t, &info.KeyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	info.Tier = tier.Tier(t)
	return &info, nil
}

// TouchAPIKey implements auth.Storage. GREATEST keeps the stamp monotonic.
func (s *Storage) TouchAPIKey(ctx context.Context, keyID string, at time.Time) error {
	if !validID(keyID) {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = GREATEST(last_used_at, $2) WHERE id = $1`,
		keyID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}
	return nil
}

// ListAPIKeys implements auth.Storage
func (s *Storage) ListAPIKeys(ctx context.Context, userID string) ([]auth.KeySummary, error) {
	keys := make([]auth.KeySummary, 0)
	if !validID(userID) {
		return keys, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, key_prefix, name, is_active, last_used_at, created_at
			FROM api_keys WHERE user_id = $1
			ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k auth.KeySummary
		if err := rows.Scan(&k.ID, &k.Prefix, &k.Name, &k.IsActive, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey implements auth.Storage
func (s *Storage) RevokeAPIKey(ctx context.Context, userID, keyID string) (bool, error) {
	if !validID(userID) || !validID(keyID) {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE
			WHERE id = $1 AND user_id = $2 AND is_active`,
		keyID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendSubscriptionEvent implements auth.Storage
func (s *Storage) AppendSubscriptionEvent(ctx context.Context, ev *auth.SubscriptionEvent) error {
	if !validID(ev.UserID) {
		return auth.ErrUserNotFound
	}

	// JSONB column requires valid JSON or NULL
	var raw interface{}
	if len(ev.RawData) > 0 {
		raw = string(ev.RawData)
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO subscription_events
				(user_id, provider, event_type, tier, amount_cents, currency, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
			RETURNING id::text, created_at`,
		ev.UserID, ev.Provider, ev.EventType, string(ev.Tier), ev.AmountCents, ev.Currency, raw,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return auth.ErrUserNotFound
		}
		return fmt.Errorf("failed to insert subscription event: %w", err)
	}
	return nil
}

// ListSubscriptionEvents implements auth.Storage
func (s *Storage) ListSubscriptionEvents(ctx context.Context, userID string) ([]auth.SubscriptionEvent, error) {
	events := make([]auth.SubscriptionEvent, 0)
	if !validID(userID) {
		return events, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, user_id::text, provider, event_type, tier, amount_cents,
				currency, raw_data, created_at
			FROM subscription_events WHERE user_id = $1
			ORDER BY created_at ASC, id ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev auth.SubscriptionEvent
		var t string
		var raw []byte
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Provider, &ev.EventType, &t,
			&ev.AmountCents, &ev.Currency, &raw, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription event: %w", err)
		}
		ev.Tier = tier.Tier(t)
		if raw != nil {
			ev.RawData = json.RawMessage(raw)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscription events: %w", err)
	}
	return events, nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	var t string

	err := row.Scan(&u.ID, &u.Email, &t, &u.Provider, &u.ProviderCustomerID,
		&u.ProviderSubscriptionID, &u.BillingKey, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Tier = tier.Tier(t)
	return &u, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// validID reports whether id can be compared against a UUID column
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
