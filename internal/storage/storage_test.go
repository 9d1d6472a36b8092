package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/forgegate/internal/crypto"
	"github.com/dgellow/forgegate/internal/idp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testEncryptor(t *testing.T) crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))
	require.NoError(t, err)
	return enc
}

func testClaims() idp.Claims {
	c := idp.Claims{}
	c.Set(idp.ClaimSubject, "4242")
	c.Set(idp.ClaimLogin, "octocat")
	c.SetNull(idp.ClaimEmail)
	return c
}

// storeFactory builds a fresh, empty store driven by clock
type storeFactory func(t *testing.T, clock *fakeClock) Store

// runStoreSuite checks the behavior every backend shares. sweeps is false
// for backends that expire states on their own.
func runStoreSuite(t *testing.T, newStore storeFactory, sweeps bool) {
	ctx := context.Background()

	t.Run("state is consumed exactly once", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)

		err := store.PutState(ctx, AuthorizationState{
			Token:      "state-once",
			ReturnPath: "/dashboard",
			ExpiresAt:  clock.Now().Add(10 * time.Minute),
		})
		require.NoError(t, err)

		state, err := store.ConsumeState(ctx, "state-once")
		require.NoError(t, err)
		assert.Equal(t, "state-once", state.Token)
		assert.Equal(t, "/dashboard", state.ReturnPath)

		_, err = store.ConsumeState(ctx, "state-once")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("duplicate state token", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)

		st := AuthorizationState{Token: "state-dup", ExpiresAt: clock.Now().Add(time.Minute)}
		require.NoError(t, store.PutState(ctx, st))
		assert.ErrorIs(t, store.PutState(ctx, st), ErrStateExists)
	})

	t.Run("unknown state", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		_, err := store.ConsumeState(ctx, "never-issued")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("expired state is rejected and removed", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)

		require.NoError(t, store.PutState(ctx, AuthorizationState{
			Token:     "state-expired",
			ExpiresAt: clock.Now().Add(10 * time.Minute),
		}))
		clock.Advance(11 * time.Minute)

		_, err := store.ConsumeState(ctx, "state-expired")
		assert.ErrorIs(t, err, ErrStateExpired)

		_, err = store.ConsumeState(ctx, "state-expired")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("concurrent consume has a single winner", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)

		require.NoError(t, store.PutState(ctx, AuthorizationState{
			Token:     "state-race",
			ExpiresAt: clock.Now().Add(10 * time.Minute),
		}))

		var wins, losses atomic.Int32
		var g errgroup.Group
		for range 16 {
			g.Go(func() error {
				_, err := store.ConsumeState(ctx, "state-race")
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrStateNotFound):
					losses.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(15), losses.Load())
	})

	if sweeps {
		t.Run("sweep removes only expired states", func(t *testing.T) {
			clock := newFakeClock()
			store := newStore(t, clock)

			require.NoError(t, store.PutState(ctx, AuthorizationState{Token: "short", ExpiresAt: clock.Now().Add(time.Minute)}))
			require.NoError(t, store.PutState(ctx, AuthorizationState{Token: "long", ExpiresAt: clock.Now().Add(time.Hour)}))
			clock.Advance(2 * time.Minute)

			count, err := store.SweepExpiredStates(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			_, err = store.ConsumeState(ctx, "short")
			assert.ErrorIs(t, err, ErrStateNotFound)
			_, err = store.ConsumeState(ctx, "long")
			assert.NoError(t, err)
		})
	}

	t.Run("session lifecycle", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)

		session := &Session{
			ID:        "session-1",
			Claims:    testClaims(),
			CreatedAt: clock.Now(),
			ExpiresAt: clock.Now().Add(24 * time.Hour),
		}
		require.NoError(t, store.CreateSession(ctx, session))
		assert.ErrorIs(t, store.CreateSession(ctx, session), ErrSessionExists)

		got, err := store.GetSession(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, "session-1", got.ID)
		assert.Equal(t, testClaims(), got.Claims)
		assert.True(t, got.Claims.IsNull(idp.ClaimEmail))
		assert.True(t, session.CreatedAt.Equal(got.CreatedAt))

		got.Claims.Set(idp.ClaimLogin, "mutated")
		again, err := store.GetSession(ctx, "session-1")
		require.NoError(t, err)
		login, _ := again.Claims.Get(idp.ClaimLogin)
		assert.Equal(t, "octocat", login)

		require.NoError(t, store.DeleteSession(ctx, "session-1"))
		_, err = store.GetSession(ctx, "session-1")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.NoError(t, store.DeleteSession(ctx, "session-1"))
	})

	t.Run("expired session is not returned", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)

		require.NoError(t, store.CreateSession(ctx, &Session{
			ID:        "session-short",
			Claims:    testClaims(),
			CreatedAt: clock.Now(),
			ExpiresAt: clock.Now().Add(time.Hour),
		}))
		clock.Advance(2 * time.Hour)

		_, err := store.GetSession(ctx, "session-short")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestAuthorizationStateExpired(t *testing.T) {
	now := time.Now()
	st := AuthorizationState{ExpiresAt: now}
	assert.True(t, st.Expired(now))
	assert.False(t, st.Expired(now.Add(-time.Second)))
}

func TestSealClaims(t *testing.T) {
	enc := testEncryptor(t)

	sealed, err := sealClaims(enc, testClaims())
	require.NoError(t, err)
	assert.NotContains(t, sealed, "octocat")

	claims, err := openClaims(enc, sealed)
	require.NoError(t, err)
	assert.Equal(t, testClaims(), claims)

	_, err = openClaims(enc, "not-sealed")
	assert.Error(t, err)
}
