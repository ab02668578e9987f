// Package jwt authenticates requests carrying identity-provider session
// tokens. Tokens are RS256 JWTs whose signing keys are published as a JWKS
// document; keys are fetched and refreshed in the background by keyfunc.
//
//	v, err := jwt.NewVerifier(ctx, cfg)
//	r.Use(jwt.Middleware(v))
//
//	claims, ok := jwt.ClaimsFromContext(r.Context())
package jwt
