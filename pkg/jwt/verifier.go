package jwt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims holds the verified token fields the service relies on.
type Claims struct {
	Subject   string
	SessionID string
	Email     string
	Name      string
	ExpiresAt time.Time
	Raw       gojwt.MapClaims
}

// Verifier validates identity-provider tokens.
type Verifier struct {
	cfg     Config
	parser  *gojwt.Parser
	keyfunc gojwt.Keyfunc
}

// NewVerifier builds a Verifier backed by the provider's JWKS endpoint. The
// key set is refreshed in the background until ctx is done.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, ErrMissingIssuer
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.jwksURL()})
	if err != nil {
		return nil, errors.Join(ErrJWKSInit, err)
	}
	return NewVerifierWithKeyfunc(cfg, kf.Keyfunc), nil
}

// NewVerifierWithKeyfunc builds a Verifier with a caller-supplied key lookup.
func NewVerifierWithKeyfunc(cfg Config, kf gojwt.Keyfunc) *Verifier {
	opts := []gojwt.ParserOption{
		gojwt.WithIssuer(cfg.Issuer),
		gojwt.WithLeeway(cfg.Leeway),
		gojwt.WithExpirationRequired(),
		gojwt.WithValidMethods([]string{
			gojwt.SigningMethodRS256.Alg(),
			gojwt.SigningMethodRS384.Alg(),
			gojwt.SigningMethodRS512.Alg(),
		}),
	}
	if cfg.Audience != "" {
		opts = append(opts, gojwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		cfg:     cfg,
		parser:  gojwt.NewParser(opts...),
		keyfunc: kf,
	}
}

// Verify parses token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := gojwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyfunc)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, ErrMissingSubject
	}

	out := &Claims{
		Subject:   sub,
		SessionID: stringClaim(claims, "sid"),
		Email:     stringClaim(claims, "email"),
		Name:      stringClaim(claims, "name"),
		Raw:       claims,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

func stringClaim(claims gojwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
