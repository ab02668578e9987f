// Package api exposes the billing, usage and job endpoints over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/config"
	"github.com/dmitrymomot/saasbilling/pkg/httpserver"
	"github.com/dmitrymomot/saasbilling/pkg/jobs"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/metrics"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
	"github.com/dmitrymomot/saasbilling/pkg/webhook"
)

// Options wires the router. Subscriptions, Usage and Verifier are required;
// the rest switch their routes off when nil.
type Options struct {
	App           config.App
	CORS          CORSConfig
	Subscriptions subscription.Service
	Usage         *usage.Tracker
	Jobs          *jobs.Client
	Verifier      jwt.TokenVerifier
	// SessionCookie is read when a request carries no bearer token.
	SessionCookie string
	// ProviderWebhooks maps a provider name to the service that applies its
	// events, mounted at /api/webhooks/{name}.
	ProviderWebhooks map[string]subscription.Service
	// IdentityWebhooks verifies svix-signed identity provider events.
	IdentityWebhooks *webhook.Verifier
	HealthChecks     []func(context.Context) error
	Logger           *slog.Logger
}

type server struct {
	app      config.App
	subs     subscription.Service
	usage    *usage.Tracker
	jobs     *jobs.Client
	identity *webhook.Verifier
	log      *slog.Logger
	errs     handler.ErrorHandler
}

// NewRouter builds the HTTP handler for the whole API.
func NewRouter(opts Options) http.Handler {
	if opts.Subscriptions == nil || opts.Usage == nil || opts.Verifier == nil {
		panic("api: subscriptions, usage and verifier are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &server{
		app:      opts.App,
		subs:     opts.Subscriptions,
		usage:    opts.Usage,
		jobs:     opts.Jobs,
		identity: opts.IdentityWebhooks,
		log:      log.With(logger.Component("api")),
		errs:     handler.NewErrorHandler(log),
	}

	extractors := []jwt.TokenExtractor{jwt.BearerToken}
	if opts.SessionCookie != "" {
		extractors = append(extractors, jwt.CookieToken(opts.SessionCookie))
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(opts.CORS))

	r.Get("/health/live", httpserver.HealthCheckHandler(log))
	r.Get("/health/ready", httpserver.HealthCheckHandler(log, opts.HealthChecks...))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/pricing-plans", plain(s, s.listPlans))

		r.Route("/webhooks", func(r chi.Router) {
			for name, svc := range opts.ProviderWebhooks {
				r.Post("/"+name, s.providerWebhook(name, svc))
			}
			if s.identity != nil {
				r.Post("/clerk", plain(s, s.identityWebhook))
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(jwt.Middleware(opts.Verifier, extractors...))
			r.Use(s.provisionUser)

			r.Route("/subscription", func(r chi.Router) {
				r.Post("/checkout", withJSON(s, s.checkout))
				r.Post("/create-payment-intent", withJSON(s, s.createPaymentIntent))
				r.Post("/confirm-payment", withJSON(s, s.confirmPayment))
				r.Post("/cancel", withJSON(s, s.cancel))
				r.Post("/reactivate", plain(s, s.reactivate))
				r.Post("/portal", withJSON(s, s.portal))
				r.Get("/info", plain(s, s.info))
				r.Get("/usage", plain(s, s.usageStatus))
				r.Post("/usage", withJSON(s, s.trackUsage))
			})

			if s.jobs != nil {
				r.Route("/jobs", func(r chi.Router) {
					r.Post("/trigger", withJSON(s, s.triggerJob))
					r.Get("/status-stream", plain(s, s.statusStream))
				})
			}

			if !s.app.IsProduction() {
				r.Post("/test/subscription", withJSON(s, s.testSubscription))
			}
		})
	})

	r.NotFound(plain(s, func(handler.Context) handler.Response {
		return handler.JSONError(handler.ErrNotFound)
	}))

	return r
}

// withJSON wraps h with the JSON binder and the shared error handler.
func withJSON[R any](s *server, h handler.HandlerFunc[R]) http.HandlerFunc {
	return handler.Wrap(h, handler.WithBinders(handler.BindJSON()), handler.WithErrorHandler(s.errs))
}

type noBody struct{}

func plain(s *server, h func(ctx handler.Context) handler.Response) http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, _ noBody) handler.Response { return h(ctx) },
		handler.WithErrorHandler(s.errs))
}
