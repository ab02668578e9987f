package api_test

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

func (e *testEnv) identityEvent(t *testing.T, id, payload string) map[string]any {
	t.Helper()
	now := time.Now()
	rec := e.do(t, http.MethodPost, "/api/webhooks/clerk", "", payload,
		"svix-id", id,
		"svix-timestamp", strconv.FormatInt(now.Unix(), 10),
		"svix-signature", e.identity.Sign(id, now, []byte(payload)),
	)
	body := decode(t, rec)
	body["_status"] = rec.Code
	return body
}

const userCreated = `{
  "type": "user.created",
  "data": {
    "id": "user_clerk_1",
    "first_name": "Ada",
    "last_name": "Lovelace",
    "primary_email_address_id": "em_2",
    "email_addresses": [
      {"id": "em_1", "email_address": "old@example.com", "verification": {"status": "unverified"}},
      {"id": "em_2", "email_address": "ada@example.com", "verification": {"status": "verified"}}
    ],
    "phone_numbers": []
  }
}`

func TestWebhooks_Identity(t *testing.T) {
	t.Parallel()

	t.Run("missing svix headers", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		rec := env.do(t, http.MethodPost, "/api/webhooks/clerk", "", userCreated)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing svix headers", decode(t, rec)["error"])
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		rec := env.do(t, http.MethodPost, "/api/webhooks/clerk", "", userCreated,
			"svix-id", "msg_1",
			"svix-timestamp", strconv.FormatInt(time.Now().Unix(), 10),
			"svix-signature", "v1,AAAA",
		)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Error verifying webhook", decode(t, rec)["error"])
	})

	t.Run("user created once", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)

		body := env.identityEvent(t, "msg_1", userCreated)
		assert.Equal(t, http.StatusCreated, body["_status"])
		assert.Equal(t, "User created successfully", body["message"])

		user, err := env.store.GetUserByAuthID(context.Background(), "user_clerk_1")
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.Equal(t, "Ada Lovelace", user.Name)
		assert.True(t, user.EmailVerified)
		assert.False(t, user.PhoneVerified)

		sub, err := env.store.GetSubscription(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.FreePriceID, sub.PriceID)

		body = env.identityEvent(t, "msg_2", userCreated)
		assert.Equal(t, http.StatusOK, body["_status"])
		assert.Equal(t, "User already exists", body["message"])
	})

	t.Run("name falls back to email local part", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)

		body := env.identityEvent(t, "msg_3", `{"type":"user.created","data":{"id":"user_clerk_2",
			"email_addresses":[{"id":"em_1","email_address":"sam@example.com"}]}}`)
		require.Equal(t, http.StatusCreated, body["_status"])

		user, err := env.store.GetUserByAuthID(context.Background(), "user_clerk_2")
		require.NoError(t, err)
		assert.Equal(t, "sam", user.Name)
		assert.Equal(t, "sam@example.com", user.Email)
	})

	t.Run("user deleted", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		env.identityEvent(t, "msg_4", userCreated)

		deleted := `{"type":"user.deleted","data":{"id":"user_clerk_1"}}`
		body := env.identityEvent(t, "msg_5", deleted)
		assert.Equal(t, http.StatusOK, body["_status"])

		_, err := env.store.GetUserByAuthID(context.Background(), "user_clerk_1")
		assert.ErrorIs(t, err, subscription.ErrUserNotFound)

		body = env.identityEvent(t, "msg_6", deleted)
		assert.Equal(t, http.StatusOK, body["_status"])
	})

	t.Run("other events are acknowledged", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		body := env.identityEvent(t, "msg_7", `{"type":"session.created","data":{"id":"sess_1"}}`)
		assert.Equal(t, http.StatusOK, body["_status"])
		assert.Equal(t, "Webhook received: session.created", body["message"])
	})
}

func TestWebhooks_Provider(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()
		rec := env.do(t, http.MethodPost, "/api/webhooks/stripe", "", `{"id":"evt_1","type":"invoice.paid"}`,
			"Stripe-Signature", "forged")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid signature", decode(t, rec)["error"])
	})

	t.Run("verified event is acknowledged", func(t *testing.T) {
		t.Parallel()
		rec := env.do(t, http.MethodPost, "/api/webhooks/stripe", "", `{"id":"evt_2","type":"customer.created"}`,
			"Stripe-Signature", "valid")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, decode(t, rec)["received"])
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		t.Parallel()
		rec := env.do(t, http.MethodPost, "/api/webhooks/paddle", "", `{}`, "Paddle-Signature", "valid")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
