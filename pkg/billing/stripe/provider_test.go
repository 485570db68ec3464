package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

type recordingMetrics struct {
	billing.NoopMetrics
	mu        sync.Mutex
	apiCalls  map[string]string
	checkouts map[string]string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		apiCalls:  make(map[string]string),
		checkouts: make(map[string]string),
	}
}

func (m *recordingMetrics) RecordAPICall(_, endpoint, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiCalls[endpoint] = status
}

func (m *recordingMetrics) RecordCheckout(_, t, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkouts[t] = status
}

// fakeStripe records form posts and answers with canned objects
type fakeStripe struct {
	mu    sync.Mutex
	forms map[string]map[string]string
}

func newFakeStripe(t *testing.T) (*httptest.Server, *fakeStripe) {
	t.Helper()
	fake := &fakeStripe{forms: make(map[string]map[string]string)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		fake.mu.Lock()
		fake.forms[r.URL.Path] = form
		fake.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
			_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/subscriptions/sub_1":
			_, _ = w.Write([]byte(`{"id":"sub_1","object":"subscription","cancel_at_period_end":true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/billing_portal/sessions":
			_, _ = w.Write([]byte(`{"id":"bps_1","object":"billing_portal.session","url":"https://billing.stripe.com/p/session/bps_1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such resource"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, fake
}

func (f *fakeStripe) form(path string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func newTestProvider(t *testing.T, baseURL string, metrics billing.Metrics) *Provider {
	t.Helper()
	p, err := NewProvider(Config{
		Config: billing.Config{
			APIKey:        "sk_test_123",
			WebhookSecret: testWebhookSecret,
			BaseURL:       baseURL,
			Metrics:       metrics,
		},
		Prices: map[tier.Tier]string{
			tier.Pro:  "price_pro",
			tier.Team: "price_team",
		},
		PortalReturnURL: "https://app.example.com/account",
	})
	require.NoError(t, err)
	return p
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{Config: billing.Config{APIKey: "  "}})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}

func TestCreateCheckout(t *testing.T) {
	srv, fake := newFakeStripe(t)
	metrics := newRecordingMetrics()
	p := newTestProvider(t, srv.URL, metrics)

	res, err := p.CreateCheckout(context.Background(), tier.Pro, "alice@example.com",
		"https://app.example.com/billing/success", "https://app.example.com/billing/cancel")
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", res.CheckoutURL)
	assert.Equal(t, "cs_test_1", res.SessionID)
	assert.Equal(t, providerName, res.Provider)

	form := fake.form("/v1/checkout/sessions")
	require.NotNil(t, form)
	assert.Equal(t, "subscription", form["mode"])
	assert.Equal(t, "price_pro", form["line_items[0][price]"])
	assert.Equal(t, "1", form["line_items[0][quantity]"])
	assert.Equal(t, "pro", form["metadata[tier]"])
	assert.Equal(t, "pro", form["subscription_data[metadata][tier]"])
	assert.Equal(t, "alice@example.com", form["subscription_data[metadata][email]"])
	assert.Equal(t, "alice@example.com", form["customer_email"])
	assert.Equal(t, "https://app.example.com/billing/success?session_id={CHECKOUT_SESSION_ID}", form["success_url"])
	assert.Equal(t, "https://app.example.com/billing/cancel", form["cancel_url"])

	assert.Equal(t, "success", metrics.checkouts["pro"])
	assert.Equal(t, "success", metrics.apiCalls["/checkout/sessions"])
}

func TestCreateCheckout_UnknownTier(t *testing.T) {
	metrics := newRecordingMetrics()
	p := newTestProvider(t, "http://127.0.0.1:0", metrics)

	_, err := p.CreateCheckout(context.Background(), tier.ProMax, "a@example.com", "", "")
	assert.ErrorIs(t, err, billing.ErrUnknownTier)
	assert.Equal(t, "unknown_tier", metrics.checkouts["promax"])
}

func TestWithSessionID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://a.example/ok", "https://a.example/ok?session_id={CHECKOUT_SESSION_ID}"},
		{"https://a.example/ok?x=1", "https://a.example/ok?x=1&session_id={CHECKOUT_SESSION_ID}"},
		{"https://a.example/ok?s={CHECKOUT_SESSION_ID}", "https://a.example/ok?s={CHECKOUT_SESSION_ID}"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := withSessionID(tt.in); got != tt.want {
			t.Errorf("withSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCancelSubscription(t *testing.T) {
	srv, fake := newFakeStripe(t)
	p := newTestProvider(t, srv.URL, nil)

	ok, err := p.CancelSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", fake.form("/v1/subscriptions/sub_1")["cancel_at_period_end"])

	ok, err = p.CancelSubscription(context.Background(), "sub_missing")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPortalURL(t *testing.T) {
	srv, fake := newFakeStripe(t)
	p := newTestProvider(t, srv.URL, nil)

	url, err := p.PortalURL(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/bps_1", url)

	form := fake.form("/v1/billing_portal/sessions")
	assert.Equal(t, "cus_1", form["customer"])
	assert.Equal(t, "https://app.example.com/account", form["return_url"])

	_, err = p.PortalURL(context.Background(), "")
	assert.Error(t, err)
}
