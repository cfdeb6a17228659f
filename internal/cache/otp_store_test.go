package cache

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/clock"

	"github.com/stretchr/testify/require"
)

func TestMemoryOTPStoreLazyExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryOTPStore(clk)

	require.NoError(t, store.Put(ctx, "a@example.com", OTPEntry{Code: "123456", ExpiresAt: clk.Now().Add(10 * time.Minute)}))

	entry, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "123456", entry.Code)
	require.False(t, entry.Expired(clk.Now()))

	clk.Advance(11 * time.Minute)
	entry, err = store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, entry.Expired(clk.Now()))

	clk.Advance(2 * time.Hour)
	_, err = store.Get(ctx, "a@example.com")
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryOTPStoreOverwriteAndVerify(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOTPStore(nil)
	exp := time.Now().Add(time.Minute)

	require.NoError(t, store.Put(ctx, "a", OTPEntry{Code: "111111", ExpiresAt: exp}))
	require.NoError(t, store.Put(ctx, "a", OTPEntry{Code: "222222", ExpiresAt: exp}))
	require.NoError(t, store.MarkVerified(ctx, "a"))

	entry, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "222222", entry.Code)
	require.True(t, entry.Verified)

	require.ErrorIs(t, store.MarkVerified(ctx, "missing"), ErrCacheMiss)
}

func TestNewOTPStoreFallsBackToMemory(t *testing.T) {
	redisCache, err := NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	require.False(t, redisCache.Enabled())

	store := NewOTPStore(redisCache, nil)
	require.IsType(t, &MemoryOTPStore{}, store)
	require.NoError(t, redisCache.Close())
}

func TestDisabledRedisCache(t *testing.T) {
	redisCache, err := NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	require.Error(t, redisCache.Ping(context.Background()))
	require.NoError(t, redisCache.Close())

	var missing *RedisCache
	require.False(t, missing.Enabled())
	require.Equal(t, "otp:a@example.com", otpKey("a@example.com"))
}

func TestRedisOTPStoreKeepsTTLOnVerify(t *testing.T) {
	addr := os.Getenv("BLOCKTIX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping redis integration test: BLOCKTIX_TEST_REDIS_ADDR not set")
	}
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	redisCache, err := NewRedisCache(config.RedisConfig{Enabled: true, Host: host, Port: portNum})
	if err != nil {
		t.Skipf("skipping redis integration test: %v", err)
	}
	defer redisCache.Close()

	ctx := context.Background()
	clk := clock.NewManual(time.Now())
	store := NewOTPStore(redisCache, clk)
	require.IsType(t, &RedisOTPStore{}, store)

	email := "ttl-" + strconv.FormatInt(time.Now().UnixNano(), 10) + "@example.com"
	defer redisCache.client.Del(ctx, otpKey(email))

	require.NoError(t, store.Put(ctx, email, OTPEntry{Code: "654321", ExpiresAt: clk.Now().Add(10 * time.Minute)}))
	before, err := redisCache.client.TTL(ctx, otpKey(email)).Result()
	require.NoError(t, err)

	require.NoError(t, store.MarkVerified(ctx, email))
	entry, err := store.Get(ctx, email)
	require.NoError(t, err)
	require.True(t, entry.Verified)
	require.Equal(t, "654321", entry.Code)

	after, err := redisCache.client.TTL(ctx, otpKey(email)).Result()
	require.NoError(t, err)
	require.LessOrEqual(t, after, before)
	require.Greater(t, after, time.Duration(0))

	_, err = store.Get(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrCacheMiss)
}
