package gate

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dgellow/forgegate/internal/autherr"
	"github.com/dgellow/forgegate/internal/idp"
)

// Hook lets the host adjust the claims of an admitted identity before its
// session is created. It runs once per login, may add or overwrite claims,
// and must leave the subject untouched. Any error aborts the login.
type Hook interface {
	Enrich(r *http.Request, sessionID string, claims idp.Claims) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(r *http.Request, sessionID string, claims idp.Claims) error

func (f HookFunc) Enrich(r *http.Request, sessionID string, claims idp.Claims) error {
	return f(r, sessionID, claims)
}

var errSubjectChanged = errors.New("hook removed or changed the subject identifier")

// runHook calls hook and turns errors, panics and subject changes into
// *autherr.HookError.
func runHook(hook Hook, r *http.Request, sessionID string, claims idp.Claims) (err error) {
	subject := claims.Subject()

	defer func() {
		if p := recover(); p != nil {
			err = &autherr.HookError{Err: fmt.Errorf("hook panicked: %v", p)}
		}
	}()

	if err := hook.Enrich(r, sessionID, claims); err != nil {
		return &autherr.HookError{Err: err}
	}
	if claims.Subject() != subject {
		return &autherr.HookError{Err: errSubjectChanged}
	}
	return nil
}
