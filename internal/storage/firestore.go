package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/forgegate/internal/crypto"
	"github.com/dgellow/forgegate/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ Store = (*FirestoreStore)(nil)

// FirestoreStore keeps states and sessions in Google Cloud Firestore.
// States live in "<collection>_states" and sessions in
// "<collection>_sessions". Session claims are encrypted before they are
// written.
type FirestoreStore struct {
	client    *firestore.Client
	encryptor crypto.Encryptor
	states    string
	sessions  string
	now       func() time.Time
}

// StateDoc is an AuthorizationState as stored in Firestore
type StateDoc struct {
	ReturnPath string    `firestore:"return_path"`
	ExpiresAt  time.Time `firestore:"expires_at"`
	CreatedAt  time.Time `firestore:"created_at"`
}

// SessionDoc is a Session as stored in Firestore, claims encrypted
type SessionDoc struct {
	Claims    string    `firestore:"claims"`
	CreatedAt time.Time `firestore:"created_at"`
	ExpiresAt time.Time `firestore:"expires_at,omitempty"`
}

// NewFirestoreStore creates a Firestore-backed store
func NewFirestoreStore(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor, opts ...Option) (*FirestoreStore, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	o := buildOptions(opts)
	log.LogInfoWithFields("firestore", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStore{
		client:    client,
		encryptor: encryptor,
		states:    collection + "_states",
		sessions:  collection + "_sessions",
		now:       o.now,
	}, nil
}

func (s *FirestoreStore) PutState(ctx context.Context, state AuthorizationState) error {
	doc := StateDoc{
		ReturnPath: state.ReturnPath,
		ExpiresAt:  state.ExpiresAt,
		CreatedAt:  s.now(),
	}
	_, err := s.client.Collection(s.states).Doc(state.Token).Create(ctx, doc)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrStateExists
		}
		return fmt.Errorf("failed to store state: %w", err)
	}
	return nil
}

// ConsumeState reads and deletes the state document in one transaction. A
// concurrent consumer either aborts and retries into NotFound or loses the
// race outright.
func (s *FirestoreStore) ConsumeState(ctx context.Context, token string) (*AuthorizationState, error) {
	ref := s.client.Collection(s.states).Doc(token)

	var stored StateDoc
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrStateNotFound
			}
			return fmt.Errorf("failed to get state: %w", err)
		}
		if err := doc.DataTo(&stored); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
		return tx.Delete(ref)
	})
	if err != nil {
		if errors.Is(err, ErrStateNotFound) || status.Code(err) == codes.NotFound {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}

	state := &AuthorizationState{
		Token:      token,
		ReturnPath: stored.ReturnPath,
		ExpiresAt:  stored.ExpiresAt,
	}
	if state.Expired(s.now()) {
		return nil, ErrStateExpired
	}
	return state, nil
}

// SweepExpiredStates deletes expired state documents in batches
func (s *FirestoreStore) SweepExpiredStates(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.states).
		Where("expires_at", "<=", s.now()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired states: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}
	return count, nil
}

func (s *FirestoreStore) CreateSession(ctx context.Context, session *Session) error {
	sealed, err := sealClaims(s.encryptor, session.Claims)
	if err != nil {
		return err
	}
	doc := SessionDoc{
		Claims:    sealed,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}

	if _, err := s.client.Collection(s.sessions).Doc(session.ID).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrSessionExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetSession(ctx context.Context, id string) (*Session, error) {
	doc, err := s.client.Collection(s.sessions).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sessionDoc SessionDoc
	if err := doc.DataTo(&sessionDoc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	claims, err := openClaims(s.encryptor, sessionDoc.Claims)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        id,
		Claims:    claims,
		CreatedAt: sessionDoc.CreatedAt,
		ExpiresAt: sessionDoc.ExpiresAt,
	}
	if session.expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *FirestoreStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.client.Collection(s.sessions).Doc(id).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
