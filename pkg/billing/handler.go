package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/billing/internal"
)

const (
	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// HandlerConfig tunes the webhook HTTP handler
type HandlerConfig struct {
	// MaxBodyBytes caps the request body (default 256 KiB)
	MaxBodyBytes int64

	// RateLimitRequests per RateLimitWindow per client IP (default 100 per minute).
	// A negative value disables rate limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Logger  auth.Logger
	Metrics Metrics
}

type webhookHandler struct {
	provider   Provider
	dispatcher *Dispatcher
	config     HandlerConfig
}

// WebhookHandler returns an http.Handler that verifies provider callbacks and
// applies them through dispatcher. Invalid signatures are rejected with 401
// before any state change; dispatch failures return 500 so the provider retries.
func WebhookHandler(provider Provider, dispatcher *Dispatcher, config HandlerConfig) http.Handler {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.RateLimitRequests == 0 {
		config.RateLimitRequests = defaultRateLimitRequests
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = defaultRateLimitWindow
	}
	if config.Logger == nil {
		config.Logger = &auth.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	h := &webhookHandler{
		provider:   provider,
		dispatcher: dispatcher,
		config:     config,
	}

	if config.RateLimitRequests < 0 {
		return h
	}

	limiter := internal.NewRateLimiter(config.RateLimitRequests, config.RateLimitWindow)
	limiter.OnReject = func(*http.Request) {
		config.Metrics.RecordWebhookError(provider.Name(), "rate_limited")
	}
	return limiter.Middleware(h)
}

func (h *webhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	name := h.provider.Name()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.config.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			h.config.Metrics.RecordWebhookError(name, "payload_too_large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid payload")
			h.config.Metrics.RecordWebhookError(name, "invalid_payload")
		}
		return
	}

	ev, err := h.provider.VerifyWebhook(body, r.Header.Get(h.provider.SignatureHeader()))
	if err != nil {
		if errors.Is(err, ErrInvalidWebhookSignature) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			h.config.Metrics.RecordWebhookError(name, "auth_failed")
			h.config.Logger.Warn("webhook signature rejected", auth.Field{Key: "provider", Value: name})
			return
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		h.config.Metrics.RecordWebhookError(name, "invalid_payload")
		return
	}

	outcome, err := h.dispatcher.Apply(r.Context(), ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		h.config.Metrics.RecordWebhookEvent(name, ev.EventType, string(ev.PlanTier), "error")
		h.config.Metrics.RecordWebhookError(name, "processing_error")
		h.config.Metrics.RecordWebhookProcessingDuration(name, ev.EventType, time.Since(startTime))
		h.config.Logger.Error("webhook dispatch failed",
			auth.Field{Key: "provider", Value: name},
			auth.Field{Key: "event_type", Value: ev.EventType},
			auth.ErrorField(err),
		)
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})

	status := "success"
	if outcome != OutcomeApplied {
		status = string(outcome)
	}
	h.config.Metrics.RecordWebhookEvent(name, ev.EventType, string(ev.PlanTier), status)
	h.config.Metrics.RecordWebhookProcessingDuration(name, ev.EventType, time.Since(startTime))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	_ = internal.WriteJSON(w, code, map[string]string{"error": msg})
}
