package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/forgegate/internal/admission"
	"github.com/dgellow/forgegate/internal/config"
	"github.com/dgellow/forgegate/internal/crypto"
	"github.com/dgellow/forgegate/internal/gate"
	"github.com/dgellow/forgegate/internal/idp"
	"github.com/dgellow/forgegate/internal/log"
	"github.com/dgellow/forgegate/internal/metrics"
	"github.com/dgellow/forgegate/internal/server"
	"github.com/dgellow/forgegate/internal/storage"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// ForgeGate is the assembled application: provider, gate, stores and the
// reference HTTP host.
type ForgeGate struct {
	config     config.Config
	gate       *gate.Gate
	handler    http.Handler
	httpServer *server.HTTPServer
	store      storage.Store
	sweeper    *storage.Sweeper
}

// NewForgeGate builds the application from a validated config
func NewForgeGate(ctx context.Context, cfg config.Config) (*ForgeGate, error) {
	log.LogInfoWithFields("forgegate", "Building application", map[string]any{
		"baseURL":  cfg.Server.BaseURL,
		"provider": cfg.Auth.Provider,
		"storage":  cfg.Auth.Storage,
		"domains":  len(cfg.Auth.AllowedDomains),
	})

	redirectURL, err := url.Parse(cfg.Auth.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}

	store, err := setupStorage(ctx, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	provider, err := idp.NewProvider(ctx, cfg.Auth)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	policy, err := admission.ParseEmptyPolicy(cfg.Auth.EmptyDomainsPolicy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	m := metrics.New()
	g, err := gate.New(gate.Options{
		Provider: provider,
		Filter: admission.Filter{
			Allowed:     admission.NewDomainSet(cfg.Auth.AllowedDomains...),
			EmptyPolicy: policy,
		},
		Hook:            server.NewMissingEmailHook(cfg.Auth.MissingEmailPlaceholder),
		States:          store,
		Sessions:        store,
		StateTTL:        cfg.Auth.StateTTL,
		ProviderTimeout: cfg.Auth.ProviderTimeout,
		SessionTTL:      cfg.Auth.SessionTTL,
		Metrics:         m,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	handler := server.NewHandler(server.Options{
		Gate:             g,
		CallbackPath:     redirectURL.Path,
		CookieSigningKey: []byte(cfg.Auth.CookieSigningKey),
		SessionTTL:       cfg.Auth.SessionTTL,
		Metrics:          m,
	})

	return &ForgeGate{
		config:     cfg,
		gate:       g,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
		store:      store,
		sweeper:    storage.NewSweeper(store, cfg.Auth.SweepInterval),
	}, nil
}

// Handler returns the HTTP handler serving every route
func (f *ForgeGate) Handler() http.Handler {
	return f.handler
}

// Run serves until SIGINT, SIGTERM, ctx cancellation or a server error,
// then shuts down gracefully and closes the store.
func (f *ForgeGate) Run(ctx context.Context) error {
	log.LogInfoWithFields("forgegate", "Starting application", map[string]any{
		"addr": f.config.Server.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := f.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return f.sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.LogInfoWithFields("forgegate", "Starting graceful shutdown", map[string]any{
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		return f.httpServer.Stop(shutdownCtx)
	})

	err := group.Wait()
	if closeErr := f.store.Close(); closeErr != nil {
		log.LogErrorWithFields("forgegate", "Failed to close store", map[string]any{
			"error": closeErr.Error(),
		})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.LogErrorWithFields("forgegate", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("forgegate", "Application shutdown complete", nil)
	return nil
}

// setupStorage creates the state and session store selected by cfg.Storage
func setupStorage(ctx context.Context, cfg config.AuthConfig) (storage.Store, error) {
	var encryptor crypto.Encryptor
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		encryptor = enc
	}

	switch cfg.Storage {
	case config.StorageRedis:
		log.LogInfoWithFields("storage", "Using Redis storage", nil)
		store, err := storage.NewRedisStore(ctx, string(cfg.RedisURL), encryptor)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.GCPProject,
			"database":   cfg.FirestoreDatabase,
			"collection": cfg.FirestoreCollection,
		})
		store, err := storage.NewFirestoreStore(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection, encryptor)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", nil)
		return storage.NewMemoryStore(), nil
	}
}
