package api

import (
	"context"
	"net/http"

	"github.com/go-chi/cors"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	MaxAge         int      `env:"CORS_MAX_AGE" envDefault:"300"`
}

func corsMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Cache-Control", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           cfg.MaxAge,
	})
}

var userKey = handler.NewContextKey("user")

// provisionUser resolves the local user for the verified token, creating it
// with a free subscription on its first authenticated request.
func (s *server) provisionUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := jwt.ClaimsFromContext(r.Context())
		if !ok || claims.Subject == "" {
			_ = handler.JSONError(handler.ErrUnauthorized).Render(w, r)
			return
		}

		user, err := s.subs.EnsureUser(r.Context(), subscription.NewUser{
			AuthUserID: claims.Subject,
			Email:      claims.Email,
			Name:       claims.Name,
		})
		if err != nil {
			s.log.ErrorContext(r.Context(), "user provisioning failed",
				logger.UserID(claims.Subject), logger.Error(err))
			_ = handler.JSONError(handler.ErrInternal).Render(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// currentUser returns the user placed by provisionUser.
func currentUser(ctx handler.Context) *subscription.User {
	return handler.ContextValue[*subscription.User](ctx, userKey)
}
