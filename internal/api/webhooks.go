package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/webhook"
)

// signatureHeaders names the header each billing provider signs with.
var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
	"paddle": "Paddle-Signature",
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, handler.MaxBodySize))
	if err != nil {
		return nil, errors.Join(handler.ErrInvalidJSON, err)
	}
	return body, nil
}

func (s *server) providerWebhook(name string, svc subscription.Service) http.HandlerFunc {
	header, ok := signatureHeaders[name]
	if !ok {
		header = "Webhook-Signature"
	}

	return plain(s, func(ctx handler.Context) handler.Response {
		r := ctx.Request()
		body, err := readBody(r)
		if err != nil {
			return handler.Error(err)
		}
		signature := r.Header.Get(header)

		log := s.log.With(
			logger.Provider(name),
			slog.String("delivery_id", ulid.Make().String()),
			logger.RequestID(requestid.FromContext(ctx)),
		)
		log.InfoContext(ctx, "webhook delivery received",
			slog.Int("body_size", len(body)),
			slog.Bool("has_signature", signature != ""),
		)

		event, err := svc.HandleWebhook(ctx, body, signature)
		if err != nil {
			if errors.Is(err, subscription.ErrWebhookVerificationFailed) ||
				errors.Is(err, subscription.ErrInvalidWebhookPayload) {
				return fail(err, "")
			}
			return fail(err, "Webhook processing failed")
		}

		log.InfoContext(ctx, "webhook delivery processed",
			logger.EventType(event.ProviderEvent), logger.Event(event.ID))
		return handler.JSON(map[string]any{"received": true})
	})
}

type identityEvent struct {
	Type string           `json:"type"`
	Data identityUserData `json:"data"`
}

type identityUserData struct {
	ID                    string `json:"id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string       `json:"id"`
		EmailAddress string       `json:"email_address"`
		Verification verification `json:"verification"`
	} `json:"email_addresses"`
	PhoneNumbers []struct {
		PhoneNumber  string       `json:"phone_number"`
		Verification verification `json:"verification"`
	} `json:"phone_numbers"`
}

type verification struct {
	Status string `json:"status"`
}

func (v verification) verified() bool { return v.Status == "verified" }

// primaryEmail returns the primary address, or the first one listed.
func (d identityUserData) primaryEmail() string {
	for _, e := range d.EmailAddresses {
		if e.ID != "" && e.ID == d.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

// displayName falls back from the full name to the first name, the email
// local part and finally a placeholder.
func (d identityUserData) displayName() string {
	first := strings.TrimSpace(d.FirstName)
	last := strings.TrimSpace(d.LastName)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	}
	if len(d.EmailAddresses) > 0 {
		if local, _, _ := strings.Cut(d.EmailAddresses[0].EmailAddress, "@"); local != "" {
			return local
		}
	}
	return "Anonymous User"
}

func (d identityUserData) newUser() subscription.NewUser {
	nu := subscription.NewUser{
		AuthUserID: d.ID,
		Email:      d.primaryEmail(),
		Name:       d.displayName(),
	}
	for _, e := range d.EmailAddresses {
		nu.EmailVerified = nu.EmailVerified || e.Verification.verified()
	}
	for _, p := range d.PhoneNumbers {
		nu.PhoneVerified = nu.PhoneVerified || p.Verification.verified()
	}
	return nu
}

func (s *server) identityWebhook(ctx handler.Context) handler.Response {
	r := ctx.Request()
	headers := webhook.HeadersFrom(r.Header)
	if !headers.Complete() {
		return handler.Error(handler.NewHTTPError(http.StatusBadRequest, "Missing svix headers"))
	}

	body, err := readBody(r)
	if err != nil {
		return handler.Error(err)
	}
	if err := s.identity.Verify(body, headers); err != nil {
		return handler.Error(errors.Join(
			handler.NewHTTPError(http.StatusBadRequest, "Error verifying webhook"), err))
	}

	var evt identityEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return handler.Error(errors.Join(handler.ErrInvalidJSON, err))
	}

	log := s.log.With(logger.EventType(evt.Type), logger.Event(headers.ID))
	log.InfoContext(ctx, "identity webhook received")

	switch evt.Type {
	case "user.created":
		_, created, err := s.subs.RegisterUser(ctx, evt.Data.newUser())
		if err != nil {
			return fail(err, "Failed to create user")
		}
		if !created {
			return handler.JSON(messageResponse{Success: true, Message: "User already exists"})
		}
		return handler.JSON(messageResponse{Success: true, Message: "User created successfully"},
			handler.WithJSONStatus(http.StatusCreated))

	case "user.deleted":
		err := s.subs.DeleteUser(ctx, evt.Data.ID)
		if err != nil && !errors.Is(err, subscription.ErrUserNotFound) {
			return fail(err, "Failed to delete user")
		}
		return handler.JSON(messageResponse{Success: true, Message: "User deleted successfully"})
	}

	return handler.JSON(map[string]string{"message": fmt.Sprintf("Webhook received: %s", evt.Type)})
}
