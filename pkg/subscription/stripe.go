package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeProvider implements BillingProvider for Stripe.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
}

// NewStripeProvider creates a new Stripe billing provider.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return newStripeProvider(config, client.New(config.SecretKey, nil)), nil
}

// NewStripeProviderWithBackends is NewStripeProvider with custom API
// backends, e.g. pointed at stripe-mock.
func NewStripeProviderWithBackends(config StripeConfig, backends *stripe.Backends) *StripeProvider {
	return newStripeProvider(config, client.New(config.SecretKey, backends))
}

func newStripeProvider(config StripeConfig, api *client.API) *StripeProvider {
	return &StripeProvider{api: api, config: config}
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{"user_id": req.UserID},
	}
	params.Context = ctx
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

func (p *StripeProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	metadata := map[string]string{"user_id": req.UserID, "price_id": req.PriceID}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	switch {
	case req.CustomerID != "":
		params.Customer = stripe.String(req.CustomerID)
	case req.Email != "":
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	link := &CheckoutLink{URL: sess.URL, SessionID: sess.ID}
	if sess.ExpiresAt > 0 {
		link.ExpiresAt = time.Unix(sess.ExpiresAt, 0)
	}
	return link, nil
}

// CreatePaymentIntent opens an incomplete subscription and returns the client
// secret of its first invoice's payment intent.
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.CustomerID == "" {
		return nil, ErrNoBillingCustomer
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
		Metadata: req.Metadata,
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe subscription: %w", err)
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil {
		return nil, errors.New("stripe subscription has no payment intent")
	}

	return &PaymentIntent{
		ID:             sub.LatestInvoice.PaymentIntent.ID,
		ClientSecret:   sub.LatestInvoice.PaymentIntent.ClientSecret,
		SubscriptionID: sub.ID,
	}, nil
}

func (p *StripeProvider) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("invoice.subscription")

	pi, err := p.api.PaymentIntents.Get(paymentID, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe payment intent: %w", err)
	}
	return paymentFromStripe(pi), nil
}

func paymentFromStripe(pi *stripe.PaymentIntent) *Payment {
	pay := &Payment{
		ID:       pi.ID,
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		UserID:   pi.Metadata["user_id"],
		PriceID:  pi.Metadata["price_id"],
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		pay.Status = PaymentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		pay.Status = PaymentFailed
	default:
		pay.Status = PaymentPending
	}

	if pi.Customer != nil {
		pay.CustomerID = pi.Customer.ID
	}
	if pi.Invoice != nil && pi.Invoice.Subscription != nil {
		sub := pi.Invoice.Subscription
		pay.SubscriptionID = sub.ID
		if v := sub.Metadata["user_id"]; v != "" {
			pay.UserID = v
		}
		if v := sub.Metadata["price_id"]; v != "" {
			pay.PriceID = v
		} else if price := firstSubscriptionPrice(sub); price != "" {
			pay.PriceID = price
		}
	}
	return pay
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		if _, err := p.api.Subscriptions.Update(subscriptionID, params); err != nil {
			return fmt.Errorf("schedule stripe cancellation: %w", err)
		}
		return nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("cancel stripe subscription: %w", err)
	}
	return nil
}

func (p *StripeProvider) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("resume stripe subscription: %w", err)
	}
	return nil
}

func (p *StripeProvider) GetCustomerPortalLink(ctx context.Context, customerID, returnURL string) (*PortalLink, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe portal session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoPortalURL
	}
	// Stripe portal sessions are valid for five minutes.
	return &PortalLink{URL: sess.URL, ExpiresAt: time.Unix(sess.Created, 0).Add(5 * time.Minute)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	out := &WebhookEvent{
		ID:            event.ID,
		Type:          EventUnhandled,
		ProviderEvent: string(event.Type),
	}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		out.Type = stripeEventTypes[event.Type]
		fillFromStripeSubscription(out, &sub)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		out.Type = EventPaymentSucceeded
		if event.Type == "invoice.payment_failed" {
			out.Type = EventPaymentFailed
		}
		fillFromStripeInvoice(out, &inv)
	}
	return out, nil
}

var stripeEventTypes = map[stripe.EventType]EventType{
	"customer.subscription.created": EventSubscriptionCreated,
	"customer.subscription.updated": EventSubscriptionUpdated,
	"customer.subscription.deleted": EventSubscriptionDeleted,
}

func fillFromStripeSubscription(out *WebhookEvent, sub *stripe.Subscription) {
	out.SubscriptionID = sub.ID
	out.Status = mapStripeStatus(sub.Status)
	out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	out.PriceID = firstSubscriptionPrice(sub)
	out.UserID = sub.Metadata["user_id"]
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		out.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
}

func fillFromStripeInvoice(out *WebhookEvent, inv *stripe.Invoice) {
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.PaymentIntent != nil {
		out.PaymentID = inv.PaymentIntent.ID
	}
	if inv.SubscriptionDetails != nil {
		out.UserID = inv.SubscriptionDetails.Metadata["user_id"]
	}
	if inv.Lines == nil {
		return
	}
	for _, line := range inv.Lines.Data {
		if line == nil || line.Price == nil {
			continue
		}
		out.PriceID = line.Price.ID
		if line.Period != nil {
			out.PeriodStart = time.Unix(line.Period.Start, 0).UTC()
			out.PeriodEnd = time.Unix(line.Period.End, 0).UTC()
		}
		break
	}
}

func firstSubscriptionPrice(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil {
			return item.Price.ID
		}
	}
	return ""
}

func mapStripeStatus(s stripe.SubscriptionStatus) Status {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return StatusCanceled
	case stripe.SubscriptionStatusIncomplete:
		return StatusIncomplete
	default:
		return ""
	}
}
