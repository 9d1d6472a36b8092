package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), testEncryptor(t), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *fakeClock) Store {
		store, _ := newTestRedisStore(t, clock)
		return store
	}, false)
}

func TestRedisStore_StateKeyExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, mr := newTestRedisStore(t, clock)

	require.NoError(t, store.PutState(ctx, AuthorizationState{
		Token:     "ttl-state",
		ExpiresAt: clock.Now().Add(10 * time.Minute),
	}))
	assert.True(t, mr.Exists("forgegate:state:ttl-state"))
	assert.Equal(t, 10*time.Minute, mr.TTL("forgegate:state:ttl-state"))

	mr.FastForward(11 * time.Minute)
	_, err := store.ConsumeState(ctx, "ttl-state")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStore_PutExpiredState(t *testing.T) {
	clock := newFakeClock()
	store, _ := newTestRedisStore(t, clock)

	err := store.PutState(context.Background(), AuthorizationState{Token: "late", ExpiresAt: clock.Now().Add(-time.Second)})
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestRedisStore_SessionClaimsEncrypted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, mr := newTestRedisStore(t, clock)

	require.NoError(t, store.CreateSession(ctx, &Session{
		ID:        "enc",
		Claims:    testClaims(),
		CreatedAt: clock.Now(),
		ExpiresAt: clock.Now().Add(time.Hour),
	}))

	raw, err := mr.Get("forgegate:session:enc")
	require.NoError(t, err)
	assert.NotContains(t, raw, "octocat")
	assert.Equal(t, time.Hour, mr.TTL("forgegate:session:enc"))
}

func TestRedisStore_CorruptSessionIsDropped(t *testing.T) {
	clock := newFakeClock()
	store, mr := newTestRedisStore(t, clock)

	require.NoError(t, mr.Set("forgegate:session:bad", "{not json"))
	_, err := store.GetSession(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, mr.Exists("forgegate:session:bad"))
}

func TestNewRedisStore_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewRedisStore(ctx, "redis://localhost:6379", nil)
	assert.ErrorContains(t, err, "encryptor is required")

	_, err = NewRedisStore(ctx, "not a url", testEncryptor(t))
	assert.ErrorContains(t, err, "invalid redis URL")
}
