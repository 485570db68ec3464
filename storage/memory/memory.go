// Package memory provides an in-memory implementation of the auth.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// Storage implements auth.Storage using in-memory maps
type Storage struct {
	mu      sync.RWMutex
	users   map[string]*auth.User // by id
	byEmail map[string]string     // email -> user id
	keys    map[string]*keyRecord // by id
	byHash  map[string]string     // active key hash -> key id
	events  []auth.SubscriptionEvent
	seq     int64
	now     func() time.Time
}

type keyRecord struct {
	key auth.APIKey
	seq int64
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		users:   make(map[string]*auth.User),
		byEmail: make(map[string]string),
		keys:    make(map[string]*keyRecord),
		byHash:  make(map[string]string),
		now:     time.Now,
	}
}

// CreateUser implements auth.Storage
func (s *Storage) CreateUser(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byEmail[email]; ok {
		return copyUser(s.users[id]), nil
	}

	now := s.now().UTC()
	user := &auth.User{
		ID:        uuid.NewString(),
		Email:     email,
		Tier:      tier.Free,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[user.ID] = user
	s.byEmail[email] = user.ID
	return copyUser(user), nil
}

// GetUserByID implements auth.Storage
func (s *Storage) GetUserByID(ctx context.Context, userID string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return copyUser(user), nil
}

// GetUserByEmail implements auth.Storage
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return copyUser(s.users[id]), nil
}

// UpdateUserTier implements auth.Storage with COALESCE semantics on the optional fields
func (s *Storage) UpdateUserTier(ctx context.Context, email string, t tier.Tier, upd auth.TierUpdate) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrUserNotFound
	}

	user := s.users[id]
	user.Tier = t
	coalesce(&user.Provider, upd.Provider)
	coalesce(&user.ProviderCustomerID, upd.ProviderCustomerID)
	coalesce(&user.ProviderSubscriptionID, upd.ProviderSubscriptionID)
	coalesce(&user.BillingKey, upd.BillingKey)
	user.UpdatedAt = s.now().UTC()

	return copyUser(user), nil
}

// InsertAPIKey implements auth.Storage. The count and the insert happen under one lock.
func (s *Storage) InsertAPIKey(ctx context.Context, key *auth.APIKey, maxActive int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key.UserID]; !ok {
		return auth.ErrUserNotFound
	}

	if maxActive != tier.Unlimited {
		active := 0
		for _, rec := range s.keys {
			if rec.key.UserID == key.UserID && rec.key.IsActive {
				active++
			}
		}
		if active >= maxActive {
			return auth.ErrQuotaExceeded
		}
	}

	key.ID = uuid.NewString()
	key.CreatedAt = s.now().UTC()
	key.IsActive = true

	s.seq++
	s.keys[key.ID] = &keyRecord{key: *key, seq: s.seq}
	s.byHash[key.KeyHash] = key.ID
	return nil
}

// LookupAPIKey implements auth.Storage
func (s *Storage) LookupAPIKey(ctx context.Context, keyHash string) (*auth.UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[keyHash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	rec := s.keys[id]
	if !rec.key.IsActive {
		return nil, auth.ErrKeyNotFound
	}
	user, ok := s.users[rec.key.UserID]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}

	info := user.Info()
	info.KeyID = rec.key.ID
	return info, nil
}

// TouchAPIKey implements auth.Storage. Older stamps never overwrite newer ones.
func (s *Storage) TouchAPIKey(ctx context.Context, keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[keyID]
	if !ok {
		return nil
	}
	if rec.key.LastUsedAt == nil || at.After(*rec.key.LastUsedAt) {
		at := at
		rec.key.LastUsedAt = &at
	}
	return nil
}

// ListAPIKeys implements auth.Storage
func (s *Storage) ListAPIKeys(ctx context.Context, userID string) ([]auth.KeySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*keyRecord, 0)
	for _, rec := range s.keys {
		if rec.key.UserID == userID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].key.CreatedAt.Equal(recs[j].key.CreatedAt) {
			return recs[i].key.CreatedAt.After(recs[j].key.CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})

	out := make([]auth.KeySummary, 0, len(recs))
	for _, rec := range recs {
		summary := rec.key.Summary()
		if summary.LastUsedAt != nil {
			t := *summary.LastUsedAt
			summary.LastUsedAt = &t
		}
		out = append(out, summary)
	}
	return out, nil
}

// RevokeAPIKey implements auth.Storage
func (s *Storage) RevokeAPIKey(ctx context.Context, userID, keyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[keyID]
	if !ok || rec.key.UserID != userID || !rec.key.IsActive {
		return false, nil
	}
	rec.key.IsActive = false
	delete(s.byHash, rec.key.KeyHash)
	return true, nil
}

// AppendSubscriptionEvent implements auth.Storage
func (s *Storage) AppendSubscriptionEvent(ctx context.Context, ev *auth.SubscriptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[ev.UserID]; !ok {
		return auth.ErrUserNotFound
	}

	ev.ID = uuid.NewString()
	ev.CreatedAt = s.now().UTC()

	stored := *ev
	if ev.RawData != nil {
		stored.RawData = append([]byte(nil), ev.RawData...)
	}
	s.events = append(s.events, stored)
	return nil
}

// ListSubscriptionEvents implements auth.Storage
func (s *Storage) ListSubscriptionEvents(ctx context.Context, userID string) ([]auth.SubscriptionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]auth.SubscriptionEvent, 0)
	for _, ev := range s.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Ping implements auth.Storage
func (s *Storage) Ping(ctx context.Context) error {
	return nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*auth.User)
	s.byEmail = make(map[string]string)
	s.keys = make(map[string]*keyRecord)
	s.byHash = make(map[string]string)
	s.events = nil
	s.seq = 0
}

// SetClock replaces the clock used for created_at and updated_at stamps
func (s *Storage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func coalesce(dst **string, v *string) {
	if v != nil {
		s := *v
		*dst = &s
	}
}

// copyUser returns a copy to prevent external mutations
func copyUser(u *auth.User) *auth.User {
	c := *u
	c.Provider = copyString(u.Provider)
	c.ProviderCustomerID = copyString(u.ProviderCustomerID)
	c.ProviderSubscriptionID = copyString(u.ProviderSubscriptionID)
	c.BillingKey = copyString(u.BillingKey)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
