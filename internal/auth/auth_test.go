package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func TestTokenRoundTrip(t *testing.T) {
	tok, err := IssueToken(Principal{UserID: "u-42", Email: "site@example.com"}, testSecret, time.Hour)
	require.NoError(t, err)

	p, err := ParseToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, &Principal{UserID: "u-42", Email: "site@example.com"}, p)
}

func TestParseTokenRejects(t *testing.T) {
	expired, err := IssueToken(Principal{UserID: "u"}, testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, testSecret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	good, err := IssueToken(Principal{UserID: "u"}, testSecret, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(good, "other")
	assert.Error(t, err)

	noSubject, err := IssueToken(Principal{}, testSecret, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(noSubject, testSecret)
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	ctx := WithPrincipal(context.Background(), &Principal{UserID: "u"})
	assert.Equal(t, "u", FromContext(ctx).UserID)
}

func TestMiddleware(t *testing.T) {
	var seen *Principal
	h := Middleware(testSecret, &Principal{UserID: "local"}, slog.Default())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = FromContext(r.Context())
		}))

	// No token: fallback principal.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "local", seen.UserID)

	// Valid token overrides the fallback.
	tok, err := IssueToken(Principal{UserID: "remote"}, testSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "remote", seen.UserID)

	// Invalid token is rejected before the handler runs.
	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, ExtractToken(req))
	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(req))
	req.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", ExtractToken(req))
}
