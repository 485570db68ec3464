// Package redis provides a Redis read-through cache for the API key lookup path
// of any auth.Storage. Every other call is delegated to the wrapped storage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

const cacheType = "api_key"

// Storage implements auth.Storage by caching LookupAPIKey results in Redis
// in front of another auth.Storage
type Storage struct {
	auth.Storage

	client  redis.UniversalClient
	config  Config
	group   singleflight.Group
	scripts map[string]*redis.Script
}

// Config holds Redis cache configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "stellar:")
	KeyPrefix string

	// LookupTTL is the lifetime of a cached key lookup (default: 5m)
	LookupTTL time.Duration

	// Logger is optional. Defaults to auth.NoopLogger.
	Logger auth.Logger

	// Metrics is optional. Defaults to auth.NoopMetrics.
	Metrics auth.Metrics
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "stellar:",
		LookupTTL: 5 * time.Minute,
	}
}

// cachedLookup is the stored form of a positive lookup
type cachedLookup struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Tier   string `json:"tier"`
	KeyID  string `json:"key_id"`
}

// New wraps next with a Redis cache.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(next auth.Storage, client redis.UniversalClient, config Config) (*Storage, error) {
	if next == nil {
		return nil, auth.ErrStorageUnavailable
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "stellar:"
	}
	if config.LookupTTL <= 0 {
		config.LookupTTL = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = &auth.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &auth.NoopMetrics{}
	}

	s := &Storage{
		Storage: next,
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts compiles the Lua scripts used for atomic cache operations
func (s *Storage) loadScripts() {
	// Fill only if no invalidation happened since the generation was read
	s.scripts["fill"] = redis.NewScript(`
		local genKey = KEYS[1]
		local entryKey = KEYS[2]
		local indexKey = KEYS[3]
		local expected = tonumber(ARGV[1])
		local data = ARGV[2]
		local ttl = tonumber(ARGV[3])

		local current = tonumber(redis.call('GET', genKey) or '0')
		if current ~= expected then
			return 0
		end

		redis.call('SET', entryKey, data, 'PX', ttl)
		redis.call('SADD', indexKey, entryKey)
		redis.call('PEXPIRE', indexKey, ttl)
		return 1
	`)

	// Bump the generation and drop every cached entry of the user
	s.scripts["invalidate"] = redis.NewScript(`
		local genKey = KEYS[1]
		local indexKey = KEYS[2]

		redis.call('INCR', genKey)
		local members = redis.call('SMEMBERS', indexKey)
		for _, key in ipairs(members) do
			redis.call('DEL', key)
		end
		redis.call('DEL', indexKey)
		return #members
	`)
}

// LookupAPIKey implements auth.Storage. Only positive results are cached;
// concurrent misses for one hash share a single storage call.
func (s *Storage) LookupAPIKey(ctx context.Context, keyHash string) (*auth.UserInfo, error) {
	data, err := s.client.Get(ctx, s.entryKey(keyHash)).Bytes()
	switch {
	case err == nil:
		var cached cachedLookup
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			s.config.Metrics.RecordCacheHit(cacheType)
			return &auth.UserInfo{
				UserID: cached.UserID,
				Email:  cached.Email,
				Tier:   tier.Tier(cached.Tier),
				KeyID:  cached.KeyID,
			}, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		s.config.Logger.Warn("api key cache read failed", auth.ErrorField(err))
	}

	s.config.Metrics.RecordCacheMiss(cacheType)

	v, err, _ := s.group.Do(keyHash, func() (interface{}, error) {
		return s.fill(ctx, keyHash)
	})
	if err != nil {
		return nil, err
	}

	info := *v.(*auth.UserInfo)
	return &info, nil
}

func (s *Storage) fill(ctx context.Context, keyHash string) (*auth.UserInfo, error) {
	// The generation cannot be read before the owner is known, so the
	// lookup runs first and the fill is guarded by a second read below.
	info, err := s.Storage.LookupAPIKey(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	gen, err := s.generation(ctx, info.UserID)
	if err != nil {
		s.config.Logger.Warn("api key cache generation read failed", auth.ErrorField(err))
		return info, nil
	}

	// Re-check after reading the generation so a revoke that landed between
	// the first lookup and the generation read is not cached.
	info, err = s.Storage.LookupAPIKey(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cachedLookup{
		UserID: info.UserID,
		Email:  info.Email,
		Tier:   string(info.Tier),
		KeyID:  info.KeyID,
	})
	if err != nil {
		return info, nil
	}

	err = s.scripts["fill"].Run(ctx, s.client,
		[]string{s.generationKey(info.UserID), s.entryKey(keyHash), s.indexKey(info.UserID)},
		gen, data, s.config.LookupTTL.Milliseconds(),
	).Err()
	if err != nil {
		s.config.Logger.Warn("api key cache write failed", auth.ErrorField(err))
	}

	return info, nil
}

// RevokeAPIKey implements auth.Storage and drops the owner's cached lookups.
// Invalidation runs on every call, including repeats that revoke nothing, so
// retrying after a failed invalidation clears the stale entries.
func (s *Storage) RevokeAPIKey(ctx context.Context, userID, keyID string) (bool, error) {
	revoked, err := s.Storage.RevokeAPIKey(ctx, userID, keyID)
	if err != nil {
		return false, err
	}
	if err := s.Invalidate(ctx, userID); err != nil {
		return revoked, err
	}
	return revoked, nil
}

// UpdateUserTier implements auth.Storage and drops the user's cached lookups
func (s *Storage) UpdateUserTier(ctx context.Context, email string, t tier.Tier, upd auth.TierUpdate) (*auth.User, error) {
	user, err := s.Storage.UpdateUserTier(ctx, email, t, upd)
	if err != nil {
		return nil, err
	}
	if err := s.Invalidate(ctx, user.ID); err != nil {
		return user, err
	}
	return user, nil
}

// Invalidate drops every cached lookup that resolves to userID
func (s *Storage) Invalidate(ctx context.Context, userID string) error {
	err := s.scripts["invalidate"].Run(ctx, s.client,
		[]string{s.generationKey(userID), s.indexKey(userID)},
	).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate api key cache: %w", err)
	}
	return nil
}

// Ping checks both Redis and the wrapped storage
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return s.Storage.Ping(ctx)
}

// Close closes the Redis client. The wrapped storage is left open.
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) generation(ctx context.Context, userID string) (int64, error) {
	gen, err := s.client.Get(ctx, s.generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (s *Storage) entryKey(keyHash string) string {
	return fmt.Sprintf("%sapikey:%s", s.config.KeyPrefix, keyHash)
}

func (s *Storage) indexKey(userID string) string {
	return fmt.Sprintf("%suser:%s:apikeys", s.config.KeyPrefix, userID)
}

func (s *Storage) generationKey(userID string) string {
	return fmt.Sprintf("%suser:%s:gen", s.config.KeyPrefix, userID)
}
