package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSession(t *testing.T) {
	t.Setenv("FORGEGATE_ENV", "")
	w := httptest.NewRecorder()
	SetSession(w, "signed-value", time.Hour)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookie, c.Name)
	assert.Equal(t, "signed-value", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)
}

func TestSetSession_DevIsNotSecure(t *testing.T) {
	t.Setenv("FORGEGATE_ENV", "dev")
	w := httptest.NewRecorder()
	SetSession(w, "v", time.Minute)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.False(t, cookies[0].Secure)
}

func TestClearAndGetSession(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSession(w)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := GetSession(r)
	assert.ErrorIs(t, err, http.ErrNoCookie)

	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "abc"})
	value, err := GetSession(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", value)
}
