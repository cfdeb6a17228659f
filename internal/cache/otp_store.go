package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"example.com/blocktix/internal/clock"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// expiredRetention is how long an expired code is still reported as expired
// instead of missing.
const expiredRetention = time.Hour

// OTPEntry is the single active code for an email address
type OTPEntry struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Verified  bool      `json:"verified"`
}

// Expired reports whether the code can no longer be used at now
func (e OTPEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// OTPStore keeps one pending code per normalized email
type OTPStore interface {
	// Put stores or overwrites the entry for email
	Put(ctx context.Context, email string, entry OTPEntry) error
	// Get returns ErrCacheMiss when no entry exists
	Get(ctx context.Context, email string) (*OTPEntry, error)
	MarkVerified(ctx context.Context, email string) error
}

// NewOTPStore returns a Redis-backed store when the cache is enabled and an
// in-process store otherwise
func NewOTPStore(redisCache *RedisCache, clk clock.Clock) OTPStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if redisCache.Enabled() {
		return &RedisOTPStore{cache: redisCache, clock: clk}
	}
	return NewMemoryOTPStore(clk)
}

// RedisOTPStore stores codes as JSON under otp:<email> with a Redis TTL
type RedisOTPStore struct {
	cache *RedisCache
	clock clock.Clock
}

func otpKey(email string) string {
	return "otp:" + email
}

// Put stores the entry, letting Redis evict it after the retention window
func (s *RedisOTPStore) Put(ctx context.Context, email string, entry OTPEntry) error {
	return s.write(ctx, email, entry, entry.ExpiresAt.Sub(s.clock.Now())+expiredRetention)
}

// Get loads the entry for email
func (s *RedisOTPStore) Get(ctx context.Context, email string) (*OTPEntry, error) {
	data, err := s.cache.client.Get(ctx, otpKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read otp")
	}

	var entry OTPEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to decode otp")
	}
	return &entry, nil
}

// MarkVerified flags the code as used without extending its lifetime
func (s *RedisOTPStore) MarkVerified(ctx context.Context, email string) error {
	entry, err := s.Get(ctx, email)
	if err != nil {
		return err
	}
	entry.Verified = true
	return s.write(ctx, email, *entry, redis.KeepTTL)
}

func (s *RedisOTPStore) write(ctx context.Context, email string, entry OTPEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode otp")
	}
	if err := s.cache.client.Set(ctx, otpKey(email), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to store otp")
	}
	return nil
}

// MemoryOTPStore is an in-process store with lazy expiry on read
type MemoryOTPStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]OTPEntry
}

// NewMemoryOTPStore creates an empty in-process store
func NewMemoryOTPStore(clk clock.Clock) *MemoryOTPStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryOTPStore{
		clock:   clk,
		entries: make(map[string]OTPEntry),
	}
}

// Put stores or overwrites the entry for email
func (s *MemoryOTPStore) Put(ctx context.Context, email string, entry OTPEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[email] = entry
	return nil
}

// Get returns the entry, evicting it first when it is past the retention window
func (s *MemoryOTPStore) Get(ctx context.Context, email string) (*OTPEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[email]
	if !ok {
		return nil, ErrCacheMiss
	}
	if s.clock.Now().After(entry.ExpiresAt.Add(expiredRetention)) {
		delete(s.entries, email)
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// MarkVerified flags the code as used
func (s *MemoryOTPStore) MarkVerified(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[email]
	if !ok {
		return errors.Wrap(ErrCacheMiss, "no otp to verify")
	}
	entry.Verified = true
	s.entries[email] = entry
	return nil
}
