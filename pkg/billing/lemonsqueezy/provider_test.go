package lemonsqueezy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/billing/internal"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
	"github.com/stellar-memory/stellar-auth/storage/memory"
)

const testSecret = "ls_webhook_secret"

func newTestProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p, err := NewProvider(Config{
		Config: billing.Config{
			APIKey:        "ls_test_key",
			WebhookSecret: testSecret,
			BaseURL:       baseURL,
		},
		StoreID: "store_1",
		Variants: map[tier.Tier]string{
			tier.Pro:  "var_pro",
			tier.Team: "var_team",
		},
	})
	require.NoError(t, err)
	return p
}

func sign(body string) string {
	return internal.SignHex([]byte(testSecret), []byte(body))
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}

func TestCreateCheckout(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkouts", r.URL.Path)
		assert.Equal(t, "Bearer ls_test_key", r.Header.Get("Authorization"))
		assert.Equal(t, jsonAPI, r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", jsonAPI)
		_, _ = w.Write([]byte(`{"data":{"type":"checkouts","id":"chk_9","attributes":{"url":"https://stellar.lemonsqueezy.com/checkout/custom/abc"}}}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res, err := p.CreateCheckout(context.Background(), tier.Team, "alice@example.com", "https://app.example.com/ok", "https://app.example.com/cancel")
	require.NoError(t, err)

	assert.Equal(t, "https://stellar.lemonsqueezy.com/checkout/custom/abc", res.CheckoutURL)
	assert.Equal(t, "chk_9", res.SessionID)
	assert.Equal(t, providerName, res.Provider)

	data := captured["data"].(map[string]interface{})
	attrs := data["attributes"].(map[string]interface{})
	checkoutData := attrs["checkout_data"].(map[string]interface{})
	assert.Equal(t, "alice@example.com", checkoutData["email"])
	assert.Equal(t, "team", checkoutData["custom"].(map[string]interface{})["tier"])
	assert.Equal(t, "https://app.example.com/ok", attrs["product_options"].(map[string]interface{})["redirect_url"])

	rels := data["relationships"].(map[string]interface{})
	variant := rels["variant"].(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, "var_team", variant["id"])
	store := rels["store"].(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, "store_1", store["id"])
}

func TestCreateCheckout_UnknownTier(t *testing.T) {
	p := newTestProvider(t, "http://127.0.0.1:0")
	_, err := p.CreateCheckout(context.Background(), tier.ProMax, "a@example.com", "", "")
	assert.ErrorIs(t, err, billing.ErrUnknownTier)
}

func TestCreateCheckout_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"detail":"variant not found"}]}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.CreateCheckout(context.Background(), tier.Pro, "a@example.com", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrProviderAPIError)

	var perr *billing.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusUnprocessableEntity, perr.StatusCode)
}

func TestVerifyWebhook_SubscriptionCreated(t *testing.T) {
	p := newTestProvider(t, "")
	body := `{"meta":{"event_name":"subscription_created","custom_data":{"tier":"pro"}},` +
		`"data":{"type":"subscriptions","id":"42","attributes":{"user_email":"alice@example.com","customer_id":777}}}`

	ev, err := p.VerifyWebhook([]byte(body), sign(body))
	require.NoError(t, err)

	assert.Equal(t, providerName, ev.Provider)
	assert.Equal(t, billing.EventSubscriptionCreated, ev.EventType)
	assert.Equal(t, "alice@example.com", ev.CustomerEmail)
	assert.Equal(t, tier.Pro, ev.PlanTier)
	assert.Equal(t, "42", ev.SubscriptionID)
	assert.Equal(t, "777", ev.CustomerID)
	assert.JSONEq(t, body, string(ev.RawData))
}

func TestVerifyWebhook_MixedCustomData(t *testing.T) {
	p := newTestProvider(t, "")
	tests := []struct {
		name       string
		customData string
		want       tier.Tier
	}{
		{"numeric sibling", `{"tier":"team","user_id":123}`, tier.Team},
		{"nested sibling", `{"tier":"team","ref":{"campaign":"spring"},"trial":true}`, tier.Team},
		{"numeric tier", `{"tier":2}`, tier.Pro},
		{"not an object", `["team"]`, tier.Pro},
		{"null", `null`, tier.Pro},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"meta":{"event_name":"subscription_created","custom_data":` + tt.customData + `},` +
				`"data":{"type":"subscriptions","id":"42","attributes":{"user_email":"bob@example.com"}}}`

			ev, err := p.VerifyWebhook([]byte(body), sign(body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.PlanTier)
			assert.Equal(t, "bob@example.com", ev.CustomerEmail)
		})
	}
}

func TestVerifyWebhook_Mapping(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		tier      string
		wantType  string
		wantTier  tier.Tier
	}{
		{"updated", "subscription_updated", "team", billing.EventSubscriptionUpdated, tier.Team},
		{"resumed", "subscription_resumed", "pro", billing.EventSubscriptionUpdated, tier.Pro},
		{"cancelled", "subscription_cancelled", "pro", billing.EventSubscriptionCancelled, tier.Pro},
		{"expired", "subscription_expired", "", billing.EventSubscriptionExpired, tier.Pro},
		{"payment success", "subscription_payment_success", "team", billing.EventPaymentSuccess, tier.Team},
		{"payment failed", "subscription_payment_failed", "bogus", billing.EventPaymentFailed, tier.Pro},
		{"unknown passes through", "order_refunded", "pro", "order_refunded", tier.Pro},
	}

	p := newTestProvider(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"meta":{"event_name":"` + tt.eventName + `","custom_data":{"tier":"` + tt.tier + `"}},` +
				`"data":{"type":"subscriptions","id":"1","attributes":{"user_email":"bob@example.com"}}}`
			ev, err := p.VerifyWebhook([]byte(body), sign(body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, ev.EventType)
			assert.Equal(t, tt.wantTier, ev.PlanTier)
		})
	}
}

func TestVerifyWebhook_InvoiceCarriesSubscriptionAndAmount(t *testing.T) {
	p := newTestProvider(t, "")
	body := `{"meta":{"event_name":"subscription_payment_success","custom_data":{"tier":"pro"}},` +
		`"data":{"type":"subscription-invoices","id":"inv_5","attributes":{"user_email":"bob@example.com",` +
		`"subscription_id":42,"total":900,"currency":"usd"}}}`

	ev, err := p.VerifyWebhook([]byte(body), sign(body))
	require.NoError(t, err)
	assert.Equal(t, "42", ev.SubscriptionID)
	require.NotNil(t, ev.AmountCents)
	assert.Equal(t, int64(900), *ev.AmountCents)
	assert.Equal(t, "USD", ev.Currency)
}

func TestVerifyWebhook_RejectsBadSignature(t *testing.T) {
	p := newTestProvider(t, "")
	body := `{"meta":{"event_name":"subscription_created"},"data":{"id":"42","attributes":{"user_email":"a@example.com"}}}`

	for _, sig := range []string{"", "deadbeef", sign(body + " ")} {
		_, err := p.VerifyWebhook([]byte(body), sig)
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	}

	// signature is checked before parsing
	_, err := p.VerifyWebhook([]byte(`{not json`), "00")
	assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
}

func TestVerifyWebhook_MalformedPayload(t *testing.T) {
	p := newTestProvider(t, "")
	for _, body := range []string{`{not json`, `{"meta":{}}`} {
		_, err := p.VerifyWebhook([]byte(body), sign(body))
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookPayload)
	}
}

func TestCancelSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/subscriptions/42" {
			_, _ = w.Write([]byte(`{"data":{"type":"subscriptions","id":"42"}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)

	ok, err := p.CancelSubscription(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.CancelSubscription(context.Background(), "missing")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPortalURL(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"customer portal", `{"data":{"attributes":{"urls":{"customer_portal":"https://p/1","update_payment_method":"https://u/1"}}}}`, "https://p/1"},
		{"update payment fallback", `{"data":{"attributes":{"urls":{"update_payment_method":"https://u/1"}}}}`, "https://u/1"},
		{"nothing", `{"data":{"attributes":{}}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/subscriptions/42", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := newTestProvider(t, srv.URL).PortalURL(context.Background(), "42")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortalHandle_UsesSubscriptionID(t *testing.T) {
	p := newTestProvider(t, "")
	customer, subscription := "cus_9", "sub_9"

	assert.Equal(t, "sub_9", billing.PortalHandle(p, &customer, &subscription))
	assert.Equal(t, "", billing.PortalHandle(p, &customer, nil))
}

// TestWebhook_EndToEnd feeds signed webhooks through the handler into a manager
func TestWebhook_EndToEnd(t *testing.T) {
	ctx := context.Background()
	manager, err := auth.NewManager(memory.New(), auth.Config{})
	require.NoError(t, err)
	dispatcher, err := billing.NewDispatcher(manager, billing.DispatcherConfig{})
	require.NoError(t, err)

	handler := billing.WebhookHandler(newTestProvider(t, ""), dispatcher, billing.HandlerConfig{})

	_, _, err = manager.RegisterUser(ctx, "alice@example.com")
	require.NoError(t, err)

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/lemonsqueezy", strings.NewReader(body))
		req.Header.Set(signatureHeader, sign(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	created := `{"meta":{"event_name":"subscription_created","custom_data":{"tier":"pro"}},` +
		`"data":{"id":"42","attributes":{"user_email":"alice@example.com"}}}`
	require.Equal(t, http.StatusOK, post(created))

	user, err := manager.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, tier.Pro, user.Tier)
	require.NotNil(t, user.ProviderSubscriptionID)
	assert.Equal(t, "42", *user.ProviderSubscriptionID)

	events, err := manager.ListSubscriptionEvents(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, billing.EventSubscriptionCreated, events[0].EventType)
	assert.Equal(t, tier.Pro, events[0].Tier)

	expired := `{"meta":{"event_name":"subscription_expired"},` +
		`"data":{"id":"42","attributes":{"user_email":"alice@example.com"}}}`
	require.Equal(t, http.StatusOK, post(expired))

	user, err = manager.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, tier.Free, user.Tier)

	events, err = manager.ListSubscriptionEvents(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, tier.Free, events[1].Tier)
}
