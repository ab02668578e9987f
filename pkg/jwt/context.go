package jwt

import "context"

type contextKey struct{ name string }

var (
	tokenKey  = &contextKey{name: "jwt"}
	claimsKey = &contextKey{name: "jwt_claims"}
)

// WithClaims stores verified claims and the raw token in ctx.
func WithClaims(ctx context.Context, token string, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, tokenKey, token)
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns claims placed by the middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// TokenFromContext returns the raw bearer token, used when calling
// downstream services on the user's behalf.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}
