package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndParse(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)

	tok, expires, err := tokens.Issue("user-1", true)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := tokens.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.True(t, claims.Medical)
}

func TestParseRejects(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	good, _, err := tokens.Issue("user-1", false)
	require.NoError(t, err)

	expired := NewTokens(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue("user-1", false)
	require.NoError(t, err)

	forged, _, err := NewTokens("another-secret-another-secret", time.Hour).Issue("user-1", false)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"expired":   old,
		"forged":    forged,
		"alg none":  none,
		"truncated": good[:len(good)-4],
	} {
		_, err := tokens.Parse(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestMiddlewareAndRequireUser(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	tok, expires, err := tokens.Issue("user-42", false)
	require.NoError(t, err)

	var seen string
	h := Middleware(tokens)(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	// Cookie.
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, tok, expires, true)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "user-42", seen)

	// Bearer header.
	seen = ""
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "user-42", seen)

	// Anonymous.
	seen = ""
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"User not logged in"}`, w.Body.String())
	assert.Empty(t, seen)
}

func TestSessionCookieFlags(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "tok", time.Now().Add(time.Hour), false)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, SessionCookieName, cookies[0].Name)

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec, true)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken(""))
}
