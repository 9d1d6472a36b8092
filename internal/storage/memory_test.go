package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *fakeClock) Store {
		return NewMemoryStore(WithClock(clock.Now))
	}, true)
}

func TestMemoryStore_ExpiredSessionIDCanBeReused(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	session := &Session{ID: "reuse", Claims: testClaims(), CreatedAt: clock.Now(), ExpiresAt: clock.Now().Add(time.Minute)}
	require.NoError(t, store.CreateSession(ctx, session))

	clock.Advance(time.Hour)
	session.ExpiresAt = clock.Now().Add(time.Minute)
	assert.NoError(t, store.CreateSession(ctx, session))
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	for _, token := range []string{"a", "b", "c"} {
		require.NoError(t, store.PutState(ctx, AuthorizationState{Token: token, ExpiresAt: clock.Now().Add(time.Minute)}))
	}
	clock.Advance(time.Hour)

	sweeper := NewSweeper(store, time.Minute)
	assert.Equal(t, 3, sweeper.Sweep(ctx))
	assert.Equal(t, 0, sweeper.Sweep(ctx))
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewSweeper(NewMemoryStore(), time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
