package gate

import (
	"context"
	"errors"
	"time"

	"github.com/dgellow/forgegate/internal/autherr"
	"github.com/dgellow/forgegate/internal/crypto"
	"github.com/dgellow/forgegate/internal/idp"
	"github.com/dgellow/forgegate/internal/storage"
)

// SessionRecord is a finalized login. It cannot be modified; Claims returns
// a copy.
type SessionRecord struct {
	id        string
	claims    idp.Claims
	createdAt time.Time
	expiresAt time.Time
}

func (s *SessionRecord) ID() string           { return s.id }
func (s *SessionRecord) CreatedAt() time.Time { return s.createdAt }

// ExpiresAt is zero for sessions without a TTL.
func (s *SessionRecord) ExpiresAt() time.Time { return s.expiresAt }

// Claims returns a copy of the session claims.
func (s *SessionRecord) Claims() idp.Claims { return s.claims.Clone() }

func recordFromSession(s *storage.Session) *SessionRecord {
	return &SessionRecord{
		id:        s.ID,
		claims:    s.Claims.Clone(),
		createdAt: s.CreatedAt,
		expiresAt: s.ExpiresAt,
	}
}

// Binder persists sessions and looks them up again for the host.
type Binder struct {
	sessions storage.SessionStore
	ttl      time.Duration
	now      func() time.Time
}

// NewBinder creates a Binder. A zero ttl creates sessions that only end on
// Revoke.
func NewBinder(sessions storage.SessionStore, ttl time.Duration, now func() time.Time) *Binder {
	if now == nil {
		now = time.Now
	}
	return &Binder{sessions: sessions, ttl: ttl, now: now}
}

// NewSessionID returns a fresh opaque session identifier.
func (b *Binder) NewSessionID() (string, error) {
	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", &autherr.StoreError{Op: "generate session id", Err: err}
	}
	return id, nil
}

// Finalize stores claims under a fresh session identifier.
func (b *Binder) Finalize(ctx context.Context, claims idp.Claims) (*SessionRecord, error) {
	id, err := b.NewSessionID()
	if err != nil {
		return nil, err
	}
	return b.Bind(ctx, id, claims)
}

// Bind stores claims under sessionID. Nothing is stored when it fails, and
// the error is a *autherr.StoreError.
func (b *Binder) Bind(ctx context.Context, sessionID string, claims idp.Claims) (*SessionRecord, error) {
	now := b.now()
	session := &storage.Session{
		ID:        sessionID,
		Claims:    claims.Clone(),
		CreatedAt: now,
	}
	if b.ttl > 0 {
		session.ExpiresAt = now.Add(b.ttl)
	}

	if err := b.sessions.CreateSession(ctx, session); err != nil {
		return nil, &autherr.StoreError{Op: "create session", Err: err}
	}
	return recordFromSession(session), nil
}

// Lookup returns the live session for id. storage.ErrSessionNotFound is
// returned unwrapped so hosts can answer 401.
func (b *Binder) Lookup(ctx context.Context, id string) (*SessionRecord, error) {
	session, err := b.sessions.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, &autherr.StoreError{Op: "get session", Err: err}
	}
	return recordFromSession(session), nil
}

// Revoke deletes the session. Unknown ids are not an error.
func (b *Binder) Revoke(ctx context.Context, id string) error {
	if err := b.sessions.DeleteSession(ctx, id); err != nil {
		return &autherr.StoreError{Op: "delete session", Err: err}
	}
	return nil
}
