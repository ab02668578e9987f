// Package subscription manages each user's single billing subscription: the
// plan catalog, the subscription lifecycle and the payment provider
// integration.
//
// # Model
//
// Every user owns exactly one Subscription referencing a Plan by its
// provider price id. New users start on the free plan (FreePriceID). Paid
// plans are bought through a hosted checkout or an embedded payment and
// become active once the payment is confirmed, either by ConfirmPayment or by
// the provider's payment webhook.
//
// Cancellation is either scheduled for the period end, keeping access until
// then, or immediate, which downgrades to the free plan and clears the
// period's usage. A scheduled or canceled subscription can be reactivated
// while its paid period is still running.
//
// # Providers
//
// BillingProvider wraps a payment provider. StripeProvider and
// PaddleProvider are included:
//
//	provider, err := subscription.NewStripeProvider(cfg)
//	if err != nil {
//		return err
//	}
//	svc := subscription.NewService(store, store, provider,
//		subscription.WithLogger(log),
//		subscription.WithIdempotencyStore(claims),
//	)
//
// Webhooks are verified by the provider, deduplicated by event id and then
// applied. Subscription snapshots from the provider are authoritative; user
// actions go through the status transition table and fail with
// ErrInvalidSubscriptionState or ErrGraceWindowExpired when not allowed.
//
// # Catalog
//
// Plans are seeded from a YAML catalog (LoadCatalog, SeedPlans). The
// embedded default defines Free, Pro and Enterprise with paid price ids taken
// from STRIPE_PRO_PRICE_ID and STRIPE_ENTERPRISE_PRICE_ID.
package subscription
