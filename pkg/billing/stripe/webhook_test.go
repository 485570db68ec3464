package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

const testWebhookSecret = "whsec_test_secret"

func signed(t *testing.T, payload string) string {
	t.Helper()
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func eventJSON(eventType, object string) string {
	return `{"id":"evt_1","object":"event","type":"` + eventType + `","created":1700000000,` +
		`"api_version":"2020-08-27","data":{"object":` + object + `}}`
}

func TestVerifyWebhook_CheckoutSessionCompleted(t *testing.T) {
	p := newTestProvider(t, "", nil)
	payload := eventJSON("checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","customer_email":"alice@example.com",`+
			`"customer":"cus_1","subscription":"sub_1","metadata":{"tier":"team"},"amount_total":4900,"currency":"usd"}`)

	ev, err := p.VerifyWebhook([]byte(payload), signed(t, payload))
	require.NoError(t, err)

	assert.Equal(t, providerName, ev.Provider)
	assert.Equal(t, billing.EventSubscriptionCreated, ev.EventType)
	assert.Equal(t, "alice@example.com", ev.CustomerEmail)
	assert.Equal(t, tier.Team, ev.PlanTier)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, "evt_1", ev.ProviderEventID)
	require.NotNil(t, ev.AmountCents)
	assert.Equal(t, int64(4900), *ev.AmountCents)
	assert.Equal(t, "USD", ev.Currency)
	assert.JSONEq(t, payload, string(ev.RawData))
}

func TestVerifyWebhook_CheckoutFallsBackToCustomerDetails(t *testing.T) {
	p := newTestProvider(t, "", nil)
	payload := eventJSON("checkout.session.completed",
		`{"object":"checkout.session","customer_details":{"email":"bob@example.com"},"subscription":{"id":"sub_9"}}`)

	ev, err := p.VerifyWebhook([]byte(payload), signed(t, payload))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", ev.CustomerEmail)
	assert.Equal(t, "sub_9", ev.SubscriptionID)
	assert.Equal(t, tier.Pro, ev.PlanTier)
}

func TestVerifyWebhook_Invoices(t *testing.T) {
	p := newTestProvider(t, "", nil)

	paid := eventJSON("invoice.paid",
		`{"object":"invoice","customer_email":"alice@example.com","subscription":"sub_1",`+
			`"lines":{"data":[{"metadata":{"tier":"team"}}]},"amount_paid":4900,"amount_due":4900,"currency":"eur"}`)
	ev, err := p.VerifyWebhook([]byte(paid), signed(t, paid))
	require.NoError(t, err)
	assert.Equal(t, billing.EventPaymentSuccess, ev.EventType)
	assert.Equal(t, tier.Team, ev.PlanTier)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "EUR", ev.Currency)

	failed := eventJSON("invoice.payment_failed",
		`{"object":"invoice","customer_email":"alice@example.com",`+
			`"parent":{"subscription_details":{"subscription":"sub_2","metadata":{"tier":"promax"}}},`+
			`"lines":{"data":[]},"amount_paid":0,"amount_due":900,"currency":"usd"}`)
	ev, err = p.VerifyWebhook([]byte(failed), signed(t, failed))
	require.NoError(t, err)
	assert.Equal(t, billing.EventPaymentFailed, ev.EventType)
	assert.Equal(t, tier.ProMax, ev.PlanTier)
	assert.Equal(t, "sub_2", ev.SubscriptionID)
	require.NotNil(t, ev.AmountCents)
	assert.Equal(t, int64(900), *ev.AmountCents)
}

func TestVerifyWebhook_SubscriptionEvents(t *testing.T) {
	p := newTestProvider(t, "", nil)

	updated := eventJSON("customer.subscription.updated",
		`{"id":"sub_1","object":"subscription","customer":"cus_1","metadata":{"tier":"team","email":"alice@example.com"}}`)
	ev, err := p.VerifyWebhook([]byte(updated), signed(t, updated))
	require.NoError(t, err)
	assert.Equal(t, billing.EventSubscriptionUpdated, ev.EventType)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "alice@example.com", ev.CustomerEmail)
	assert.Equal(t, tier.Team, ev.PlanTier)

	deleted := eventJSON("customer.subscription.deleted", `{"id":"sub_1","object":"subscription"}`)
	ev, err = p.VerifyWebhook([]byte(deleted), signed(t, deleted))
	require.NoError(t, err)
	assert.Equal(t, billing.EventSubscriptionExpired, ev.EventType)
	assert.Equal(t, "", ev.CustomerEmail)
	assert.Equal(t, tier.Pro, ev.PlanTier)
}

func TestVerifyWebhook_UnknownEventPassesThrough(t *testing.T) {
	p := newTestProvider(t, "", nil)
	payload := eventJSON("customer.created", `{"id":"cus_1","object":"customer"}`)

	ev, err := p.VerifyWebhook([]byte(payload), signed(t, payload))
	require.NoError(t, err)
	assert.Equal(t, "customer.created", ev.EventType)
	assert.False(t, billing.IsKnownEvent(ev.EventType))
}

func TestVerifyWebhook_RejectsBadSignature(t *testing.T) {
	p := newTestProvider(t, "", nil)
	payload := eventJSON("checkout.session.completed", `{"object":"checkout.session","customer_email":"x@example.com"}`)

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	}).Header

	for _, sig := range []string{"", "t=1,v1=deadbeef", forged} {
		_, err := p.VerifyWebhook([]byte(payload), sig)
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	}

	stale := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now().Add(-time.Hour),
	}).Header
	_, err := p.VerifyWebhook([]byte(payload), stale)
	assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
}

func TestVerifyWebhook_NoSecretNeverVerifies(t *testing.T) {
	p, err := NewProvider(Config{Config: billing.Config{APIKey: "sk_test_123"}})
	require.NoError(t, err)

	payload := eventJSON("invoice.paid", `{"object":"invoice"}`)
	sig := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    "",
		Timestamp: time.Now(),
	}).Header

	_, err = p.VerifyWebhook([]byte(payload), sig)
	assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
}

func TestObjectID(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{`"sub_1"`, "sub_1"},
		{`{"id":"sub_2","object":"subscription"}`, "sub_2"},
		{`null`, ""},
		{``, ""},
		{`42`, ""},
	}
	for _, tt := range tests {
		if got := objectID([]byte(tt.raw)); got != tt.want {
			t.Errorf("objectID(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
