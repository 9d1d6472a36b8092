// Package gate drives one login attempt end to end: the authorization
// redirect, the callback, domain admission, the host enrichment hook and the
// session binding.
//
// A login moves through
//
//	STARTED → STATE_ISSUED → CALLBACK_RECEIVED → TOKEN_EXCHANGED →
//	PROFILE_FETCHED → ADMITTED → ENRICHED → SESSION_BOUND
//
// and any step may end in FAILED. Every failure is one of the
// internal/autherr types.
package gate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/dgellow/forgegate/internal/admission"
	"github.com/dgellow/forgegate/internal/autherr"
	"github.com/dgellow/forgegate/internal/crypto"
	"github.com/dgellow/forgegate/internal/idp"
	"github.com/dgellow/forgegate/internal/log"
	"github.com/dgellow/forgegate/internal/storage"
	"github.com/dgellow/forgegate/internal/urlutil"
)

const (
	DefaultStateTTL        = 10 * time.Minute
	DefaultProviderTimeout = 10 * time.Second
)

type loginStep string

const (
	stepStateIssued      loginStep = "STATE_ISSUED"
	stepCallbackReceived loginStep = "CALLBACK_RECEIVED"
	stepTokenExchanged   loginStep = "TOKEN_EXCHANGED"
	stepProfileFetched   loginStep = "PROFILE_FETCHED"
	stepAdmitted         loginStep = "ADMITTED"
	stepEnriched         loginStep = "ENRICHED"
	stepSessionBound     loginStep = "SESSION_BOUND"
	stepFailed           loginStep = "FAILED"
)

// Recorder receives login metrics. *metrics.Metrics implements it.
type Recorder interface {
	LoginStarted()
	LoginFinished(err error)
	ProviderCall(op string, d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) LoginStarted()                             {}
func (nopRecorder) LoginFinished(error)                       {}
func (nopRecorder) ProviderCall(string, time.Duration, error) {}

// Options configures a Gate. Provider, Hook, States and Sessions are
// required.
type Options struct {
	Provider idp.Provider
	Filter   admission.Filter
	Hook     Hook
	States   storage.StateStore
	Sessions storage.SessionStore

	// StateTTL bounds how long a login may stay in flight, default 10m
	StateTTL time.Duration
	// ProviderTimeout bounds each call to the provider, default 10s
	ProviderTimeout time.Duration
	// SessionTTL is passed to the Binder, zero means no expiry
	SessionTTL time.Duration

	Metrics Recorder
	Now     func() time.Time
}

// Gate is safe for concurrent use. The only state shared between logins
// lives in the stores.
type Gate struct {
	provider        idp.Provider
	filter          admission.Filter
	hook            Hook
	states          storage.StateStore
	binder          *Binder
	stateTTL        time.Duration
	providerTimeout time.Duration
	metrics         Recorder
	now             func() time.Time
}

// Redirect tells the host where to send the visitor.
type Redirect struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

// Result is a successful login.
type Result struct {
	Session    *SessionRecord
	ReturnPath string
}

// New validates opts and builds a Gate. Failures are *autherr.ConfigError.
func New(opts Options) (*Gate, error) {
	switch {
	case opts.Provider == nil:
		return nil, &autherr.ConfigError{Field: "provider", Reason: "is required"}
	case opts.Hook == nil:
		return nil, &autherr.ConfigError{Field: "hook", Reason: "is required"}
	case opts.States == nil:
		return nil, &autherr.ConfigError{Field: "states", Reason: "a state store is required"}
	case opts.Sessions == nil:
		return nil, &autherr.ConfigError{Field: "sessions", Reason: "a session store is required"}
	case opts.StateTTL < 0, opts.ProviderTimeout < 0, opts.SessionTTL < 0:
		return nil, &autherr.ConfigError{Reason: "durations must not be negative"}
	}

	if opts.StateTTL == 0 {
		opts.StateTTL = DefaultStateTTL
	}
	if opts.ProviderTimeout == 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Gate{
		provider:        opts.Provider,
		filter:          opts.Filter,
		hook:            opts.Hook,
		states:          opts.States,
		binder:          NewBinder(opts.Sessions, opts.SessionTTL, opts.Now),
		stateTTL:        opts.StateTTL,
		providerTimeout: opts.ProviderTimeout,
		metrics:         opts.Metrics,
		now:             opts.Now,
	}, nil
}

// Binder returns the session binder, used by hosts to look up and revoke
// sessions.
func (g *Gate) Binder() *Binder {
	return g.binder
}

// BeginLogin issues a fresh AuthorizationState and returns the provider
// authorization URL carrying it. returnPath is kept only if it is a local
// path, otherwise "/" is used.
func (g *Gate) BeginLogin(ctx context.Context, returnPath string) (*Redirect, error) {
	token, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, &autherr.StoreError{Op: "generate state", Err: err}
	}

	expiresAt := g.now().Add(g.stateTTL)
	err = g.states.PutState(ctx, storage.AuthorizationState{
		Token:      token,
		ReturnPath: urlutil.SafeReturnPath(returnPath),
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return nil, &autherr.StoreError{Op: "put state", Err: err}
	}

	g.metrics.LoginStarted()
	g.step(stepStateIssued, nil)

	return &Redirect{
		URL:       g.provider.AuthURL(token),
		State:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// CompleteLogin handles the provider callback: it consumes the state, then
// exchanges the code and fetches the profile. The state is spent before any
// provider call, so a failed callback cannot be replayed.
func (g *Gate) CompleteLogin(r *http.Request) (idp.Claims, string, error) {
	query := r.URL.Query()

	stateToken := query.Get("state")
	if stateToken == "" {
		return nil, "", &autherr.StateError{Reason: autherr.StateMissing}
	}

	state, err := g.states.ConsumeState(r.Context(), stateToken)
	switch {
	case errors.Is(err, storage.ErrStateNotFound):
		return nil, "", &autherr.StateError{Reason: autherr.StateUnknown}
	case errors.Is(err, storage.ErrStateExpired):
		return nil, "", &autherr.StateError{Reason: autherr.StateExpired}
	case err != nil:
		return nil, "", &autherr.StoreError{Op: "consume state", Err: err}
	}
	g.step(stepCallbackReceived, nil)

	// the provider redirects with ?error=access_denied when the visitor declines
	if providerErr := query.Get("error"); providerErr != "" {
		return nil, "", &autherr.TokenExchangeError{Err: fmt.Errorf("provider returned error %q", providerErr)}
	}
	code := query.Get("code")
	if code == "" {
		return nil, "", &autherr.TokenExchangeError{Err: errors.New("callback has no authorization code")}
	}

	exchangeCtx, cancel := context.WithTimeout(r.Context(), g.providerTimeout)
	start := g.now()
	token, err := g.provider.ExchangeCode(exchangeCtx, code)
	cancel()
	g.metrics.ProviderCall("token_exchange", g.now().Sub(start), err)
	if err != nil {
		return nil, "", &autherr.TokenExchangeError{Err: err}
	}
	g.step(stepTokenExchanged, nil)

	profileCtx, cancel := context.WithTimeout(r.Context(), g.providerTimeout)
	start = g.now()
	claims, err := g.provider.UserInfo(profileCtx, token)
	cancel()
	g.metrics.ProviderCall("profile_fetch", g.now().Sub(start), err)
	if err != nil {
		return nil, "", &autherr.ProfileFetchError{Err: err}
	}
	if claims.Subject() == "" {
		return nil, "", &autherr.ProfileFetchError{Err: errors.New("profile has no subject identifier")}
	}
	g.step(stepProfileFetched, map[string]any{"sub": claims.Subject()})

	return claims, state.ReturnPath, nil
}

// Authenticate runs the whole callback: CompleteLogin, admission, the hook
// and the session binding. On error no session exists.
func (g *Gate) Authenticate(r *http.Request) (result *Result, err error) {
	defer func() {
		g.metrics.LoginFinished(err)
		if err != nil {
			g.logFailure(err)
		}
	}()

	claims, returnPath, err := g.CompleteLogin(r)
	if err != nil {
		return nil, err
	}

	if err := g.filter.Check(claims); err != nil {
		return nil, err
	}
	g.step(stepAdmitted, map[string]any{"sub": claims.Subject()})

	sessionID, err := g.binder.NewSessionID()
	if err != nil {
		return nil, err
	}

	if err := runHook(g.hook, r, sessionID, claims); err != nil {
		return nil, err
	}
	g.step(stepEnriched, map[string]any{"sub": claims.Subject()})

	record, err := g.binder.Bind(r.Context(), sessionID, claims)
	if err != nil {
		return nil, err
	}
	g.step(stepSessionBound, map[string]any{"sub": claims.Subject()})

	log.LogInfoWithFields("gate", "Login succeeded", map[string]any{
		"provider": g.provider.Type(),
		"sub":      claims.Subject(),
	})
	return &Result{Session: record, ReturnPath: returnPath}, nil
}

func (g *Gate) step(s loginStep, fields map[string]any) {
	args := map[string]any{
		"step":     string(s),
		"provider": g.provider.Type(),
	}
	maps.Copy(args, fields)
	log.LogDebugWithFields("gate", "Login step", args)
}

func (g *Gate) logFailure(err error) {
	fields := map[string]any{
		"step":     string(stepFailed),
		"provider": g.provider.Type(),
		"kind":     string(autherr.KindOf(err)),
		"fault":    string(autherr.FaultOf(err)),
		"error":    err.Error(),
	}

	var rejected *autherr.DomainRejected
	if errors.As(err, &rejected) {
		fields["domain"] = rejected.Domain
	}

	if autherr.FaultOf(err) == autherr.CallerFault {
		log.LogWarnWithFields("gate", "Login rejected", fields)
		return
	}
	log.LogErrorWithFields("gate", "Login failed", fields)
}
