package jwt_test

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/jwt"
)

const testIssuer = "https://clerk.example.com"

func newTestVerifier(t *testing.T) (*jwt.Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := jwt.NewVerifierWithKeyfunc(jwt.Config{Issuer: testIssuer, Leeway: time.Second}, func(*gojwt.Token) (any, error) {
		return &key.PublicKey, nil
	})
	return v, key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims gojwt.MapClaims) string {
	t.Helper()
	s, err := gojwt.NewWithClaims(gojwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() gojwt.MapClaims {
	return gojwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "user_123",
		"sid":   "sess_1",
		"email": "jane@example.com",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	}
}

func TestVerifier(t *testing.T) {
	t.Parallel()
	v, key := newTestVerifier(t)

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		claims, err := v.Verify(sign(t, key, validClaims()))
		require.NoError(t, err)
		assert.Equal(t, "user_123", claims.Subject)
		assert.Equal(t, "sess_1", claims.SessionID)
		assert.Equal(t, "jane@example.com", claims.Email)
		assert.False(t, claims.ExpiresAt.IsZero())
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		c := validClaims()
		c["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := v.Verify(sign(t, key, c))
		assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		t.Parallel()
		c := validClaims()
		c["iss"] = "https://evil.example.com"
		_, err := v.Verify(sign(t, key, c))
		assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()
		c := validClaims()
		delete(c, "sub")
		_, err := v.Verify(sign(t, key, c))
		assert.ErrorIs(t, err, jwt.ErrMissingSubject)
	})

	t.Run("hmac token rejected", func(t *testing.T) {
		t.Parallel()
		s, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, validClaims()).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = v.Verify(s)
		assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	})

	t.Run("empty token", func(t *testing.T) {
		t.Parallel()
		_, err := v.Verify("")
		assert.ErrorIs(t, err, jwt.ErrMissingToken)
	})
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	v, key := newTestVerifier(t)

	var seen *jwt.Claims
	var seenToken string
	h := jwt.Middleware(v, jwt.BearerToken, jwt.CookieToken("__session"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = jwt.ClaimsFromContext(r.Context())
		seenToken = jwt.TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("rejects missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	})

	t.Run("accepts bearer token", func(t *testing.T) {
		token := sign(t, key, validClaims())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "user_123", seen.Subject)
		assert.Equal(t, token, seenToken)
	})

	t.Run("falls back to session cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "__session", Value: sign(t, key, validClaims())})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
