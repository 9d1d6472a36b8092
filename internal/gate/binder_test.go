package gate

import (
	"context"
	"testing"
	"time"

	"github.com/dgellow/forgegate/internal/idp"
	"github.com/dgellow/forgegate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinder(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStore(storage.WithClock(clock.Now))
	binder := NewBinder(store, time.Hour, clock.Now)

	claims := profile("dev@company.com")
	record, err := binder.Finalize(ctx, claims)
	require.NoError(t, err)
	assert.Len(t, record.ID(), 43)
	assert.Equal(t, clock.Now().Add(time.Hour), record.ExpiresAt())

	t.Run("record is immutable", func(t *testing.T) {
		claims.Set(idp.ClaimLogin, "changed-after-finalize")
		got := record.Claims()
		got.Set(idp.ClaimLogin, "changed-copy")

		login, _ := record.Claims().Get(idp.ClaimLogin)
		assert.Equal(t, "octocat", login)
	})

	t.Run("lookup and revoke", func(t *testing.T) {
		found, err := binder.Lookup(ctx, record.ID())
		require.NoError(t, err)
		assert.Equal(t, record.Claims(), found.Claims())

		require.NoError(t, binder.Revoke(ctx, record.ID()))
		_, err = binder.Lookup(ctx, record.ID())
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	})

	t.Run("expired session", func(t *testing.T) {
		short, err := binder.Finalize(ctx, profile("dev@company.com"))
		require.NoError(t, err)

		clock.Advance(2 * time.Hour)
		_, err = binder.Lookup(ctx, short.ID())
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := binder.Bind(ctx, "fixed-id", profile("a@company.com"))
		require.NoError(t, err)
		_, err = binder.Bind(ctx, "fixed-id", profile("b@company.com"))
		assert.ErrorIs(t, err, storage.ErrSessionExists)
	})
}
