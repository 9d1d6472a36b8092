package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dgellow/forgegate/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"code=abc&state=xyz", "code=%5Bredacted%5D&state=%5Bredacted%5D"},
		{"return=%2Fdash", "return=%2Fdash"},
		{"error=access_denied&state=xyz", "error=access_denied&state=%5Bredacted%5D"},
		{"%zz", "[unparseable]"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, redactQuery(tt.raw))
		})
	}
}

func TestLoggerMiddleware_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf, true)
	t.Cleanup(func() { log.SetOutput(os.Stderr, false) })

	handler := NewLoggerMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cb?code=secret-code&state=secret-state", nil))

	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"bytes":2`)
	assert.NotContains(t, out, "secret-code")
	assert.NotContains(t, out, "secret-state")
}

func TestRecoverMiddleware(t *testing.T) {
	handler := NewRecoverMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type recordedRequest struct {
	method, route string
	status        int
}

type fakeHTTPRecorder struct {
	requests []recordedRequest
}

func (f *fakeHTTPRecorder) HTTPRequest(method, route string, status int, _ time.Duration) {
	f.requests = append(f.requests, recordedRequest{method, route, status})
}

func TestMetricsMiddleware(t *testing.T) {
	recorder := &fakeHTTPRecorder{}
	handler := NewMetricsMiddleware(recorder, "/auth/me")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.WriteHeader(http.StatusOK) // ignored
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/me?x=1", nil))
	assert.Equal(t, []recordedRequest{{http.MethodGet, "/auth/me", http.StatusUnauthorized}}, recorder.requests)
}

func TestChainMiddleware_Order(t *testing.T) {
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := ChainMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mw("inner"), mw("outer"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}
