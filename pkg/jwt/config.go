package jwt

import (
	"strings"
	"time"
)

// Config describes the identity provider whose tokens are accepted.
type Config struct {
	Issuer   string        `env:"JWT_ISSUER,required"`
	JWKSURL  string        `env:"JWT_JWKS_URL"`
	Audience string        `env:"JWT_AUDIENCE"`
	Leeway   time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
	// SessionCookie is read when no Authorization header is present, which is
	// the case for browser EventSource connections.
	SessionCookie string `env:"JWT_SESSION_COOKIE" envDefault:"__session"`
}

func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return strings.TrimRight(c.Issuer, "/") + "/.well-known/jwks.json"
}
