package api

import (
	"time"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

func (s *server) listPlans(ctx handler.Context) handler.Response {
	plans, err := s.subs.ListPlans(ctx)
	if err != nil {
		return fail(err, "Failed to fetch pricing plans")
	}

	out := make([]*planResponse, 0, len(plans))
	for i := range plans {
		out = append(out, toPlanResponse(&plans[i]))
	}
	return handler.JSON(out)
}

type checkoutRequest struct {
	PriceID    string `json:"priceId" label:"Price ID" validate:"required"`
	SuccessURL string `json:"successUrl" validate:"omitempty,url"`
	CancelURL  string `json:"cancelUrl" validate:"omitempty,url"`
}

func (s *server) checkout(ctx handler.Context, req checkoutRequest) handler.Response {
	opts := subscription.CheckoutOptions{
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}
	if opts.SuccessURL == "" {
		opts.SuccessURL = s.app.AppURL("/dashboard?success=true")
	}
	if opts.CancelURL == "" {
		opts.CancelURL = s.app.AppURL("/pricing?canceled=true")
	}

	link, err := s.subs.Checkout(ctx, currentUser(ctx), opts)
	if err != nil {
		return fail(err, "Failed to create checkout session")
	}
	return handler.JSON(map[string]any{"url": link.URL})
}

type paymentIntentRequest struct {
	PriceID  string            `json:"priceId" label:"Price ID" validate:"required"`
	Metadata map[string]string `json:"metadata"`
}

func (s *server) createPaymentIntent(ctx handler.Context, req paymentIntentRequest) handler.Response {
	intent, err := s.subs.CreatePaymentIntent(ctx, currentUser(ctx), req.PriceID, req.Metadata)
	if err != nil {
		return fail(err, "Failed to create payment intent")
	}
	return handler.JSON(map[string]any{
		"clientSecret":    intent.ClientSecret,
		"paymentIntentId": intent.ID,
	})
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" label:"Payment Intent ID" validate:"required"`
}

func (s *server) confirmPayment(ctx handler.Context, req confirmPaymentRequest) handler.Response {
	if _, err := s.subs.ConfirmPayment(ctx, currentUser(ctx), req.PaymentIntentID); err != nil {
		return fail(err, "Failed to confirm payment")
	}
	return handler.JSON(messageResponse{Success: true, Message: "Subscription activated successfully"})
}

type cancelRequest struct {
	CancelAtPeriodEnd *bool `json:"cancelAtPeriodEnd"`
}

func (s *server) cancel(ctx handler.Context, req cancelRequest) handler.Response {
	atPeriodEnd := req.CancelAtPeriodEnd == nil || *req.CancelAtPeriodEnd

	res, err := s.subs.Cancel(ctx, currentUser(ctx).ID, atPeriodEnd)
	if err != nil {
		return fail(err, "Failed to cancel subscription")
	}

	if res.AtPeriodEnd {
		return handler.JSON(map[string]any{
			"success":    true,
			"message":    "Subscription will cancel at the end of the current period",
			"cancelDate": res.CancelDate.Format(time.RFC3339),
		})
	}
	return handler.JSON(messageResponse{
		Success: true,
		Message: "Subscription canceled immediately and downgraded to free plan",
	})
}

func (s *server) reactivate(ctx handler.Context) handler.Response {
	if _, err := s.subs.Reactivate(ctx, currentUser(ctx).ID); err != nil {
		return fail(err, "Failed to reactivate subscription")
	}
	return handler.JSON(messageResponse{
		Success: true,
		Message: "Subscription reactivated successfully! Your subscription will continue and renew as normal.",
	})
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl" validate:"omitempty,url"`
}

func (s *server) portal(ctx handler.Context, req portalRequest) handler.Response {
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.app.AppURL("/dashboard")
	}

	link, err := s.subs.PortalLink(ctx, currentUser(ctx).ID, returnURL)
	if err != nil {
		return fail(err, "Failed to create customer portal session")
	}
	return handler.JSON(map[string]any{"url": link.URL})
}

func (s *server) info(ctx handler.Context) handler.Response {
	info, err := s.subs.Info(ctx, currentUser(ctx).ID)
	if err != nil {
		return fail(err, "Failed to fetch subscription information")
	}

	return handler.JSON(infoResponse{
		Subscription:  toSubscriptionResponse(info.Subscription),
		Plan:          toPlanResponse(info.Plan),
		PlanType:      info.Plan.Label(),
		IsPaid:        info.IsPaid,
		HasAccess:     info.HasAccess,
		InGraceWindow: info.InGraceWindow,
	})
}
