package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dgellow/forgegate/internal/idp"
)

var (
	// ErrStateNotFound is returned when a state token is unknown or was already consumed
	ErrStateNotFound = errors.New("authorization state not found")

	// ErrStateExpired is returned when a state token is consumed past its TTL.
	// The entry is deleted all the same.
	ErrStateExpired = errors.New("authorization state expired")

	// ErrStateExists is returned when a state token is stored twice
	ErrStateExists = errors.New("authorization state already exists")

	// ErrSessionExists is returned when a session id is already taken
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when a session doesn't exist or has expired
	ErrSessionNotFound = errors.New("session not found")
)

// AuthorizationState is the anti-forgery record of one in-flight login.
type AuthorizationState struct {
	Token      string
	ReturnPath string
	ExpiresAt  time.Time
}

// Expired reports whether the state is past its TTL at now.
func (s AuthorizationState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Session is a persisted login. A zero ExpiresAt never expires.
type Session struct {
	ID        string
	Claims    idp.Claims
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// StateStore holds AuthorizationStates. ConsumeState must be atomic: of two
// concurrent calls with the same token, at most one returns the state.
type StateStore interface {
	PutState(ctx context.Context, state AuthorizationState) error
	ConsumeState(ctx context.Context, token string) (*AuthorizationState, error)
	SweepExpiredStates(ctx context.Context) (int, error)
}

// SessionStore holds finalized sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Store is implemented by every backend.
type Store interface {
	StateStore
	SessionStore
	Close() error
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, used by tests that simulate elapsed TTLs.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
