package jwt

import "errors"

var (
	ErrMissingToken   = errors.New("missing authentication token")
	ErrInvalidToken   = errors.New("invalid authentication token")
	ErrMissingSubject = errors.New("token has no subject")
	ErrMissingIssuer  = errors.New("jwt issuer is required")
	ErrJWKSInit       = errors.New("failed to initialize JWKS key set")
)
