package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func authedHandler(t *testing.T, captured *Identity) http.Handler {
	t.Helper()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		*captured = identity
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthMissingToken(t *testing.T) {
	tokens := NewTokenService("access-secret", "refresh-secret")
	handler := RequireAuth(tokens, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a token")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/robots/start", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"no token provided"}`, rec.Body.String())
}

func TestRequireAuthExpiredToken(t *testing.T) {
	tokens := NewTokenService("access-secret", "refresh-secret")
	handler := RequireAuth(tokens, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run with an expired token")
	}))

	req := httptest.NewRequest(http.MethodPost, "/robots/start", nil)
	req.Header.Set("Authorization", "Bearer "+signAccessToken(t, "access-secret", "user-1", -time.Minute))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Expired is 401, not 403, so the client knows to refresh instead of
	// re-authenticating from scratch.
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"token expired"}`, rec.Body.String())
}

func TestRequireAuthInvalidToken(t *testing.T) {
	tokens := NewTokenService("access-secret", "refresh-secret")
	handler := RequireAuth(tokens, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run with a forged token")
	}))

	req := httptest.NewRequest(http.MethodPost, "/robots/start", nil)
	req.Header.Set("Authorization", "Bearer "+signAccessToken(t, "other-secret", "user-1", time.Minute))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuthMalformedHeader(t *testing.T) {
	tokens := NewTokenService("access-secret", "refresh-secret")
	handler := RequireAuth(tokens, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/robots/start", nil)
	req.Header.Set("Authorization", "Token abc")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuthAttachesIdentity(t *testing.T) {
	tokens := NewTokenService("access-secret", "refresh-secret")

	encoded, err := tokens.IssueAccessToken(testUser())
	require.NoError(t, err)

	var identity Identity
	handler := RequireAuth(tokens, authedHandler(t, &identity))

	req := httptest.NewRequest(http.MethodPost, "/robots/fetch", nil)
	req.Header.Set("Authorization", "Bearer "+encoded)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", identity.UserID)
	require.Equal(t, "ada@example.com", identity.Email)
	require.Equal(t, "Ada", identity.FirstName)
	require.Equal(t, "Lovelace", identity.LastName)
}
