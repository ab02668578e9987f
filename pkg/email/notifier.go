package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

var (
	paymentFailedTpl = template.Must(template.New("payment_failed").Parse(`<p>Hi {{.Name}},</p>
<p>We could not process the payment for your <strong>{{.Plan}}</strong> subscription.
Please update your payment method to keep your plan active.</p>
<p><a href="{{.BillingURL}}">Manage billing</a></p>`))

	subscriptionEndedTpl = template.Must(template.New("subscription_ended").Parse(`<p>Hi {{.Name}},</p>
<p>Your subscription ended on {{.Date}} and your account is now on the free plan.</p>
<p><a href="{{.PricingURL}}">See plans</a></p>`))
)

// BillingNotifier sends subscription notices by email.
type BillingNotifier struct {
	sender EmailSender
	appURL string
}

var _ subscription.Notifier = (*BillingNotifier)(nil)

// NewBillingNotifier returns a notifier linking back to appURL.
func NewBillingNotifier(sender EmailSender, appURL string) *BillingNotifier {
	return &BillingNotifier{sender: sender, appURL: appURL}
}

func (n *BillingNotifier) PaymentFailed(ctx context.Context, user *subscription.User, plan *subscription.Plan, _ *subscription.Subscription) error {
	body, err := render(paymentFailedTpl, map[string]string{
		"Name":       displayName(user),
		"Plan":       plan.Name,
		"BillingURL": n.appURL + "/dashboard",
	})
	if err != nil {
		return err
	}
	return n.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   user.Email,
		Subject:  "Payment failed for your " + plan.Name + " subscription",
		BodyHTML: body,
		Tag:      "payment-failed",
	})
}

func (n *BillingNotifier) SubscriptionEnded(ctx context.Context, user *subscription.User, sub *subscription.Subscription) error {
	body, err := render(subscriptionEndedTpl, map[string]string{
		"Name":       displayName(user),
		"Date":       sub.CurrentPeriodStart.UTC().Format(time.DateOnly),
		"PricingURL": n.appURL + "/pricing",
	})
	if err != nil {
		return err
	}
	return n.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   user.Email,
		Subject:  "Your subscription has ended",
		BodyHTML: body,
		Tag:      "subscription-ended",
	})
}

func render(tpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return buf.String(), nil
}

func displayName(u *subscription.User) string {
	if u.Name != "" {
		return u.Name
	}
	return "there"
}
