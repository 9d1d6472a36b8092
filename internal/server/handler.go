package server

import (
	"net/http"
	"time"

	"github.com/dgellow/forgegate/internal/gate"
	"github.com/dgellow/forgegate/internal/metrics"
)

// Options configures the reference host handler
type Options struct {
	Gate *gate.Gate
	// CallbackPath is the path component of the provider redirect URL
	CallbackPath     string
	CookieSigningKey []byte
	SessionTTL       time.Duration
	Metrics          *metrics.Metrics
}

// NewHandler builds the host routes:
//
//	GET  /auth/login?return=/path
//	GET  <callback path>
//	GET  /auth/me
//	POST /auth/logout
//	GET  /health
//	GET  /metrics
func NewHandler(opts Options) http.Handler {
	authHandlers := NewAuthHandlers(opts.Gate, opts.CookieSigningKey, opts.SessionTTL)

	mux := http.NewServeMux()
	route := func(path string, h http.HandlerFunc) {
		mux.Handle(path, ChainMiddleware(h,
			NewMetricsMiddleware(opts.Metrics, path),
			NewLoggerMiddleware("http"),
			NewRecoverMiddleware("http"),
		))
	}

	callbackPath := opts.CallbackPath
	if callbackPath == "" {
		callbackPath = "/auth/callback"
	}

	route("/auth/login", authHandlers.LoginHandler)
	route(callbackPath, authHandlers.CallbackHandler)
	route("/auth/me", authHandlers.MeHandler)
	route("/auth/logout", authHandlers.LogoutHandler)

	mux.Handle("/health", NewHealthHandler())
	mux.Handle("/metrics", opts.Metrics.Handler())
	return mux
}
