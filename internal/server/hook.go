package server

import (
	"net/http"

	"github.com/dgellow/forgegate/internal/gate"
	"github.com/dgellow/forgegate/internal/idp"
)

// NewMissingEmailHook returns the host enrichment hook: a null or absent
// email claim is replaced by placeholder. An empty placeholder leaves the
// claim null.
func NewMissingEmailHook(placeholder string) gate.Hook {
	return gate.HookFunc(func(_ *http.Request, _ string, claims idp.Claims) error {
		if placeholder == "" {
			return nil
		}
		if _, ok := claims.Get(idp.ClaimEmail); !ok {
			claims.Set(idp.ClaimEmail, placeholder)
		}
		return nil
	})
}
