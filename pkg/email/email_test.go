package email_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/email"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

type captureSender struct {
	sent []email.SendEmailParams
}

func (c *captureSender) SendEmail(_ context.Context, p email.SendEmailParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.sent = append(c.sent, p)
	return nil
}

func TestNewPostmarkClient(t *testing.T) {
	t.Parallel()

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()
		client, err := email.NewPostmarkClient(email.Config{
			PostmarkServerToken: "server-token",
			SenderEmail:         "billing@example.com",
			SupportEmail:        "support@example.com",
		})
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("missing server token", func(t *testing.T) {
		t.Parallel()
		client, err := email.NewPostmarkClient(email.Config{
			SenderEmail:  "billing@example.com",
			SupportEmail: "support@example.com",
		})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
		assert.Nil(t, client)
	})

	t.Run("invalid sender", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewPostmarkClient(email.Config{
			PostmarkServerToken: "server-token",
			SenderEmail:         "not-an-email",
			SupportEmail:        "support@example.com",
		})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})
}

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	valid := email.SendEmailParams{SendTo: "a@example.com", Subject: "Hi", BodyHTML: "<p>x</p>"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*email.SendEmailParams)
	}{
		{"bad recipient", func(p *email.SendEmailParams) { p.SendTo = "nope" }},
		{"empty subject", func(p *email.SendEmailParams) { p.Subject = " " }},
		{"empty body", func(p *email.SendEmailParams) { p.BodyHTML = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
		})
	}
}

func TestBillingNotifier(t *testing.T) {
	t.Parallel()

	user := &subscription.User{Email: "jo@example.com", Name: "Jo <script>"}
	plan := &subscription.Plan{Name: "Pro", PriceID: "price_pro"}
	sub := &subscription.Subscription{CurrentPeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}

	t.Run("payment failed", func(t *testing.T) {
		t.Parallel()
		sender := &captureSender{}
		n := email.NewBillingNotifier(sender, "https://app.example.com")

		require.NoError(t, n.PaymentFailed(context.Background(), user, plan, sub))
		require.Len(t, sender.sent, 1)
		msg := sender.sent[0]
		assert.Equal(t, "jo@example.com", msg.SendTo)
		assert.Equal(t, "payment-failed", msg.Tag)
		assert.Contains(t, msg.Subject, "Pro")
		assert.Contains(t, msg.BodyHTML, "https://app.example.com/dashboard")
		assert.Contains(t, msg.BodyHTML, "Jo &lt;script&gt;")
	})

	t.Run("subscription ended", func(t *testing.T) {
		t.Parallel()
		sender := &captureSender{}
		n := email.NewBillingNotifier(sender, "https://app.example.com")

		require.NoError(t, n.SubscriptionEnded(context.Background(), user, sub))
		require.Len(t, sender.sent, 1)
		assert.Contains(t, sender.sent[0].BodyHTML, "2025-03-01")
		assert.Contains(t, sender.sent[0].BodyHTML, "https://app.example.com/pricing")
	})

	t.Run("user without email", func(t *testing.T) {
		t.Parallel()
		sender := &captureSender{}
		n := email.NewBillingNotifier(sender, "https://app.example.com")

		err := n.PaymentFailed(context.Background(), &subscription.User{}, plan, sub)
		assert.ErrorIs(t, err, email.ErrInvalidParams)
	})
}
