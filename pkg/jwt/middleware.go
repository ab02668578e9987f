package jwt

import (
	"encoding/json"
	"net/http"
	"strings"
)

// TokenVerifier is implemented by *Verifier.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// TokenExtractor pulls a raw token from a request.
type TokenExtractor func(r *http.Request) string

// BearerToken reads "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CookieToken reads the named cookie.
func CookieToken(name string) TokenExtractor {
	return func(r *http.Request) string {
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return c.Value
	}
}

// Middleware rejects requests without a valid token with 401 and stores the
// claims in the request context otherwise. Extractors are tried in order;
// with none given only the bearer header is used.
func Middleware(v TokenVerifier, extractors ...TokenExtractor) func(http.Handler) http.Handler {
	if len(extractors) == 0 {
		extractors = []TokenExtractor{BearerToken}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			for _, extract := range extractors {
				if token = extract(r); token != "" {
					break
				}
			}

			claims, err := v.Verify(token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), token, claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
