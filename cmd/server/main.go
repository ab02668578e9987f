// Command server runs the billing, usage and job relay API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/saasbilling/internal/api"
	"github.com/dmitrymomot/saasbilling/pkg/config"
	"github.com/dmitrymomot/saasbilling/pkg/email"
	"github.com/dmitrymomot/saasbilling/pkg/httpserver"
	"github.com/dmitrymomot/saasbilling/pkg/idempotency"
	"github.com/dmitrymomot/saasbilling/pkg/jobs"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/pg"
	"github.com/dmitrymomot/saasbilling/pkg/redis"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
	"github.com/dmitrymomot/saasbilling/pkg/webhook"
	"github.com/dmitrymomot/saasbilling/svc/memstore"
	"github.com/dmitrymomot/saasbilling/svc/pgstore"
)

// serverConfig selects the backing services.
type serverConfig struct {
	Storage         string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	BillingProvider string        `env:"BILLING_PROVIDER" envDefault:"stripe"`
	PlansFile       string        `env:"PLANS_FILE"`
	UsageActions    []string      `env:"USAGE_ACTIONS" envSeparator:"," envDefault:"generation"`
	JobsEnabled     bool          `env:"JOBS_ENABLED" envDefault:"true"`
	IdentitySecret  string        `env:"CLERK_WEBHOOK_SECRET"`
	WebhookDedupTTL time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"72h"`

	// WebhookDedupLease bounds how long an event stays claimed while it is
	// being applied.
	WebhookDedupLease time.Duration `env:"WEBHOOK_DEDUP_LEASE" envDefault:"10m"`
}

type stores interface {
	subscription.Store
	subscription.PlanStore
	usage.Store
}

func main() {
	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.NewFromConfig(logCfg, logger.WithContextExtractors(requestid.LoggerExtractor()))
	slog.SetDefault(log)

	if err := run(context.Background(), log); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	var (
		cfg     serverConfig
		app     config.App
		httpCfg httpserver.Config
		corsCfg api.CORSConfig
		jwtCfg  jwt.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&cfg) },
		func() error { return config.Load(&app) },
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&corsCfg) },
		func() error { return config.Load(&jwtCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	var checks []func(context.Context) error

	store, storeCheck, closeStore, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer closeStore()
	if storeCheck != nil {
		checks = append(checks, storeCheck)
	}

	dedup, dedupCheck, closeDedup, err := openDedup(ctx, cfg.WebhookDedupTTL, cfg.WebhookDedupLease, log)
	if err != nil {
		return err
	}
	defer closeDedup()
	if dedupCheck != nil {
		checks = append(checks, dedupCheck)
	}

	plans, err := subscription.LoadCatalog(cfg.PlansFile, os.Getenv)
	if err != nil {
		return err
	}
	if err := subscription.SeedPlans(ctx, store, plans); err != nil {
		return err
	}
	log.InfoContext(ctx, "plan catalog seeded", slog.Int("plans", len(plans)))

	provider, err := openProvider(cfg.BillingProvider)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(app, log)
	if err != nil {
		return err
	}

	subs := subscription.NewService(store, store, provider,
		subscription.WithLogger(log),
		subscription.WithNotifier(notifier),
		subscription.WithIdempotencyStore(dedup),
	)
	tracker := usage.NewTracker(store, store, store,
		usage.WithActions(cfg.UsageActions...),
		usage.WithLogger(log),
	)

	verifier, err := jwt.NewVerifier(ctx, jwtCfg)
	if err != nil {
		return err
	}

	opts := api.Options{
		App:              app,
		CORS:             corsCfg,
		Subscriptions:    subs,
		Usage:            tracker,
		Verifier:         verifier,
		SessionCookie:    jwtCfg.SessionCookie,
		ProviderWebhooks: map[string]subscription.Service{provider.Name(): subs},
		HealthChecks:     checks,
		Logger:           log,
	}

	if cfg.IdentitySecret != "" {
		identity, err := webhook.NewVerifier(cfg.IdentitySecret)
		if err != nil {
			return err
		}
		opts.IdentityWebhooks = identity
	} else {
		log.WarnContext(ctx, "CLERK_WEBHOOK_SECRET is not set, identity webhooks are disabled")
	}

	if cfg.JobsEnabled {
		var jobsCfg jobs.Config
		if err := config.Load(&jobsCfg); err != nil {
			return err
		}
		opts.Jobs = jobs.NewClient(jobsCfg, jobs.WithLogger(log))
	}

	server := httpserver.New(httpCfg, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, api.NewRouter(opts))
	})

	log.InfoContext(ctx, "server starting",
		slog.String("addr", httpCfg.Addr),
		slog.String("env", app.Env),
		logger.Provider(provider.Name()),
		slog.String("storage", cfg.Storage),
	)
	return g.Wait()
}

func openStore(ctx context.Context, driver string, log *slog.Logger) (stores, func(context.Context) error, func(), error) {
	switch strings.ToLower(driver) {
	case "memory":
		log.WarnContext(ctx, "using in-memory storage, data is lost on restart")
		return memstore.New(), nil, func() {}, nil

	case "postgres", "":
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, nil, nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return pgstore.New(pool, cfg.TxRetryAttempts), pg.Healthcheck(pool), pool.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown storage driver %q", driver)
}

// openDedup prefers redis for webhook de-duplication so that every replica
// shares it.
func openDedup(ctx context.Context, ttl, lease time.Duration, log *slog.Logger) (subscription.IdempotencyStore, func(context.Context) error, func(), error) {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return nil, nil, nil, err
	}
	if !cfg.Enabled() {
		log.InfoContext(ctx, "REDIS_URL is not set, webhook de-duplication is process local")
		return idempotency.NewMemoryStore(10_000, ttl, idempotency.WithLease(lease)), nil, func() {}, nil
	}

	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() { _ = client.Close() }
	return idempotency.NewRedisStore(client, "webhook:", ttl, idempotency.WithLease(lease)), redis.Healthcheck(client), closeFn, nil
}

func openProvider(name string) (subscription.BillingProvider, error) {
	switch strings.ToLower(name) {
	case "stripe", "":
		var cfg subscription.StripeConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		p, err := subscription.NewStripeProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "paddle":
		var cfg subscription.PaddleConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		p, err := subscription.NewPaddleProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, errors.New("unknown billing provider " + name)
}

func newNotifier(app config.App, log *slog.Logger) (*email.BillingNotifier, error) {
	var cfg email.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return email.NewBillingNotifier(email.NewLogSender(log), app.URL), nil
	}
	sender, err := email.NewPostmarkClient(cfg)
	if err != nil {
		return nil, err
	}
	return email.NewBillingNotifier(sender, app.URL), nil
}
