package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements BillingProvider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

func (p *PaddleProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	if req.Email == "" {
		// Paddle requires an email; the checkout collects it instead.
		return "", ErrNotSupported
	}

	in := &paddle.CreateCustomerRequest{
		Email:      req.Email,
		CustomData: paddle.CustomData{"user_id": req.UserID},
	}
	if req.Name != "" {
		in.Name = paddle.PtrTo(req.Name)
	}

	cust, err := p.client.CustomersClient.CreateCustomer(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer: %w", err)
	}
	return cust.ID, nil
}

func (p *PaddleProvider) createTransaction(ctx context.Context, priceID, customerID string, customData paddle.CustomData, checkoutURL string) (*paddle.Transaction, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	req := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: customData,
	}
	if customerID != "" {
		req.CustomerID = paddle.PtrTo(customerID)
	}
	if checkoutURL != "" {
		req.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(checkoutURL)}
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	return txn, nil
}

// CreateCheckoutLink creates a transaction whose checkout URL hosts the payment.
func (p *PaddleProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	data := paddle.CustomData{"user_id": req.UserID, "price_id": req.PriceID}
	if req.Email != "" {
		data["email"] = req.Email
	}

	txn, err := p.createTransaction(ctx, req.PriceID, req.CustomerID, data, req.SuccessURL)
	if err != nil {
		return nil, err
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:       *txn.Checkout.URL,
		SessionID: txn.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// CreatePaymentIntent creates a draft transaction for Paddle.js. The
// transaction id doubles as the client secret.
func (p *PaddleProvider) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	data := paddle.CustomData{}
	for k, v := range req.Metadata {
		data[k] = v
	}

	txn, err := p.createTransaction(ctx, req.PriceID, req.CustomerID, data, "")
	if err != nil {
		return nil, err
	}
	return &PaymentIntent{ID: txn.ID, ClientSecret: txn.ID}, nil
}

func (p *PaddleProvider) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	txn, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: paymentID})
	if err != nil {
		return nil, fmt.Errorf("failed to get paddle transaction: %w", err)
	}

	pay := &Payment{ID: txn.ID, Status: PaymentPending, Currency: strings.ToLower(string(txn.CurrencyCode))}
	switch txn.Status {
	case paddle.TransactionStatusPaid, paddle.TransactionStatusCompleted:
		pay.Status = PaymentSucceeded
	case paddle.TransactionStatusCanceled:
		pay.Status = PaymentFailed
	}
	if txn.CustomerID != nil {
		pay.CustomerID = *txn.CustomerID
	}
	if txn.SubscriptionID != nil {
		pay.SubscriptionID = *txn.SubscriptionID
	}
	if v, ok := txn.CustomData["user_id"].(string); ok {
		pay.UserID = v
	}
	if v, ok := txn.CustomData["price_id"].(string); ok {
		pay.PriceID = v
	} else if len(txn.Items) > 0 {
		pay.PriceID = txn.Items[0].Price.ID
	}
	return pay, nil
}

func (p *PaddleProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	effective := paddle.EffectiveFromImmediately
	if atPeriodEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}

	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return fmt.Errorf("failed to cancel paddle subscription: %w", err)
	}
	return nil
}

// ResumeSubscription is not available through the API: a scheduled
// cancellation in Paddle is removed from the customer portal.
func (p *PaddleProvider) ResumeSubscription(context.Context, string) error {
	return ErrNotSupported
}

func (p *PaddleProvider) GetCustomerPortalLink(ctx context.Context, customerID, _ string) (*PortalLink, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx,
		&paddle.CreateCustomerPortalSessionRequest{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle customer portal session: %w", err)
	}
	if session.URLs.General.Overview == "" {
		return nil, ErrNoPortalURL
	}
	return &PortalLink{
		URL:       session.URLs.General.Overview,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

type paddleEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      paddleEventData `json:"data"`
}

type paddleEventData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
	Items          []struct {
		PriceID string `json:"price_id"`
		Price   struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
	CurrentBillingPeriod *struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"current_billing_period"`
	BillingPeriod *struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"billing_period"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var evt paddleEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}
	return normalizePaddleEvent(evt), nil
}

func normalizePaddleEvent(evt paddleEvent) *WebhookEvent {
	d := evt.Data
	out := &WebhookEvent{
		ID:            evt.EventID,
		Type:          mapPaddleEventType(evt.EventType),
		ProviderEvent: evt.EventType,
		CustomerID:    d.CustomerID,
	}
	if v, ok := d.CustomData["user_id"].(string); ok {
		out.UserID = v
	}
	if len(d.Items) > 0 {
		out.PriceID = d.Items[0].Price.ID
		if out.PriceID == "" {
			out.PriceID = d.Items[0].PriceID
		}
	}

	switch {
	case strings.HasPrefix(evt.EventType, "subscription."):
		out.SubscriptionID = d.ID
		out.Status = mapPaddleStatus(d.Status)
		out.CancelAtPeriodEnd = d.ScheduledChange != nil && d.ScheduledChange.Action == "cancel"
		if d.CurrentBillingPeriod != nil {
			out.PeriodStart = d.CurrentBillingPeriod.StartsAt
			out.PeriodEnd = d.CurrentBillingPeriod.EndsAt
		}
	case strings.HasPrefix(evt.EventType, "transaction."):
		out.SubscriptionID = d.SubscriptionID
		out.PaymentID = d.ID
		if d.BillingPeriod != nil {
			out.PeriodStart = d.BillingPeriod.StartsAt
			out.PeriodEnd = d.BillingPeriod.EndsAt
		}
	}
	return out
}

// mapPaddleEventType maps Paddle event types to internal EventType.
func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.activated", "subscription.past_due",
		"subscription.paused", "subscription.resumed", "subscription.trialing":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	case "transaction.completed":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return EventUnhandled
	}
}

// mapPaddleStatus maps Paddle subscription status to the local Status.
func mapPaddleStatus(paddleStatus string) Status {
	switch strings.ToLower(paddleStatus) {
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due", "paused":
		return StatusPastDue
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return ""
	}
}
