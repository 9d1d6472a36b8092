package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/dgellow/forgegate/internal/autherr"
	"github.com/dgellow/forgegate/internal/cookie"
	"github.com/dgellow/forgegate/internal/crypto"
	"github.com/dgellow/forgegate/internal/gate"
	"github.com/dgellow/forgegate/internal/idp"
	jsonwriter "github.com/dgellow/forgegate/internal/json"
	"github.com/dgellow/forgegate/internal/log"
	"github.com/dgellow/forgegate/internal/storage"
)

var errNoSession = errors.New("no session")

// AuthHandlers binds the gate to browser requests: login redirect, callback,
// whoami and logout.
type AuthHandlers struct {
	gate       *gate.Gate
	signer     crypto.TokenSigner
	sessionTTL time.Duration
}

// sessionCookie is the signed cookie payload
type sessionCookie struct {
	SessionID string `json:"sid"`
}

// meResponse is the body of GET /auth/me
type meResponse struct {
	Claims    idp.Claims `json:"claims"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at,omitzero"`
}

// NewAuthHandlers creates the auth handlers. Cookies are signed with
// signingKey and live as long as sessions do.
func NewAuthHandlers(g *gate.Gate, signingKey []byte, sessionTTL time.Duration) *AuthHandlers {
	return &AuthHandlers{
		gate:       g,
		signer:     crypto.NewTokenSigner(signingKey, sessionTTL),
		sessionTTL: sessionTTL,
	}
}

// LoginHandler redirects to the identity provider. ?return= names the local
// path to land on afterwards.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	redirect, err := h.gate.BeginLogin(r.Context(), r.URL.Query().Get("return"))
	if err != nil {
		writeLoginError(w, err)
		return
	}
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// CallbackHandler completes the login and issues the session cookie
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	result, err := h.gate.Authenticate(r)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	value, err := h.signer.Sign(sessionCookie{SessionID: result.Session.ID()})
	if err != nil {
		log.LogErrorWithFields("server", "Failed to sign session cookie", map[string]any{
			"error": err.Error(),
		})
		// the session exists but cannot be handed out
		_ = h.gate.Binder().Revoke(r.Context(), result.Session.ID())
		jsonwriter.WriteInternalServerError(w, "Login failed")
		return
	}

	cookie.SetSession(w, value, h.sessionTTL)
	http.Redirect(w, r, result.ReturnPath, http.StatusFound)
}

// MeHandler returns the claims bound to the current session
func (h *AuthHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	record, err := h.currentSession(w, r)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	_ = jsonwriter.Write(w, meResponse{
		Claims:    record.Claims(),
		CreatedAt: record.CreatedAt(),
		ExpiresAt: record.ExpiresAt(),
	})
}

// LogoutHandler deletes the current session and clears the cookie
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}

	record, err := h.currentSession(w, r)
	if err != nil && !errors.Is(err, errNoSession) && !errors.Is(err, storage.ErrSessionNotFound) {
		writeSessionError(w, err)
		return
	}
	if record != nil {
		if err := h.gate.Binder().Revoke(r.Context(), record.ID()); err != nil {
			writeSessionError(w, err)
			return
		}
		log.LogInfoWithFields("server", "Logged out", map[string]any{
			"sub": record.Claims().Subject(),
		})
	}

	cookie.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// currentSession resolves the session cookie. An unusable cookie is cleared.
func (h *AuthHandlers) currentSession(w http.ResponseWriter, r *http.Request) (*gate.SessionRecord, error) {
	value, err := cookie.GetSession(r)
	if err != nil {
		return nil, errNoSession
	}

	var payload sessionCookie
	if err := h.signer.Verify(value, &payload); err != nil {
		log.LogDebugWithFields("server", "Rejected session cookie", map[string]any{
			"error": err.Error(),
		})
		cookie.ClearSession(w)
		return nil, errNoSession
	}

	record, err := h.gate.Binder().Lookup(r.Context(), payload.SessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		cookie.ClearSession(w)
	}
	return record, err
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNoSession) || errors.Is(err, storage.ErrSessionNotFound) {
		jsonwriter.WriteUnauthorized(w, "Not logged in")
		return
	}
	log.LogErrorWithFields("server", "Session lookup failed", map[string]any{
		"error": err.Error(),
	})
	jsonwriter.WriteInternalServerError(w, "Session lookup failed")
}

// writeLoginError maps the login failure taxonomy to HTTP. Caller faults get
// their message, system faults a generic one.
func writeLoginError(w http.ResponseWriter, err error) {
	var stateErr *autherr.StateError
	var rejected *autherr.DomainRejected

	switch {
	case errors.As(err, &stateErr):
		jsonwriter.WriteBadRequest(w, stateErr.Error())
	case errors.As(err, &rejected):
		jsonwriter.WriteForbidden(w, rejected.Error())
	default:
		switch autherr.KindOf(err) {
		case autherr.KindTokenExchange, autherr.KindProfileFetch:
			jsonwriter.WriteBadGateway(w, "The identity provider could not complete the login, please retry")
		default:
			jsonwriter.WriteInternalServerError(w, "Login failed")
		}
	}
}
