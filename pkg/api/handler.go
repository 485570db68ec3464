package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	stellarhttp "github.com/stellar-memory/stellar-auth/middleware/http"
	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/pkg/billing"
	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

const maxRequestBytes = 64 << 10

var (
	errNoSubscription  = errors.New("no active subscription")
	errKeyNotFound     = errors.New("api key not found")
	errEmailRegistered = errors.New("email already registered")
)

// Handler serves registration, key management, billing and provider webhooks
type Handler struct {
	config   Config
	validate *validator.Validate
	router   chi.Router
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Post("/v1/register", h.Register)

	if h.config.Provider != nil && h.config.Dispatcher != nil {
		r.Handle("/webhooks/"+h.config.Provider.Name(),
			billing.WebhookHandler(h.config.Provider, h.config.Dispatcher, h.config.Webhook))
	}

	r.Group(func(r chi.Router) {
		r.Use(stellarhttp.Middleware(stellarhttp.Config{
			Manager: h.config.Manager,
			OnUnauthorized: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="stellar"`)
				h.handleError(w, r, auth.ErrUnauthorized, http.StatusUnauthorized)
			},
			OnError: func(w http.ResponseWriter, r *http.Request, err error) {
				h.internalError(w, r, err)
			},
		}))

		r.Get("/v1/me", h.Me)

		r.Route("/v1/keys", func(r chi.Router) {
			r.Get("/", h.ListKeys)
			r.Post("/", h.CreateKey)
			r.Delete("/{keyID}", h.RevokeKey)
		})

		r.Route("/v1/billing", func(r chi.Router) {
			r.Get("/events", h.ListEvents)
			r.Post("/checkout", h.Checkout)
			r.Post("/subscribe", h.Subscribe)
			r.Get("/portal", h.Portal)
			r.Post("/cancel", h.Cancel)
		})
	})

	return r
}

// Health reports whether storage is reachable
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.config.Manager.Ping(r.Context()); err != nil {
		h.config.Logger.Error("health check failed", auth.ErrorField(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Register creates the user for a new email and returns its first key.
// Known emails get 409; their owners mint keys through POST /v1/keys.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	existing, err := h.config.Manager.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if existing != nil {
		h.handleError(w, r, errEmailRegistered, http.StatusConflict)
		return
	}

	info, raw, err := h.config.Manager.RegisterUser(r.Context(), req.Email)
	if err != nil {
		h.managerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		UserID: info.UserID,
		Email:  info.Email,
		Tier:   info.Tier,
		APIKey: raw,
	})
}

// Me describes the caller and the limits of their tier
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		UserID:   user.ID,
		Email:    user.Email,
		Tier:     user.Tier,
		Limits:   limitsView(h.config.Manager.Limits(user.Tier)),
		NextTier: tier.NextTier(user.Tier),
		Provider: user.Provider,
	})
}

// ListKeys returns every key of the caller, active and revoked
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	info, _ := stellarhttp.UserFromContext(r.Context())

	keys, err := h.config.Manager.ListAPIKeys(r.Context(), info.UserID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, KeysResponse{Keys: keys})
}

// CreateKey mints an additional key, subject to the tier's key cap
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	info, _ := stellarhttp.UserFromContext(r.Context())

	summary, raw, err := h.config.Manager.CreateAPIKey(r.Context(), info.UserID, req.Name)
	if err != nil {
		h.managerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateKeyResponse{Key: *summary, APIKey: raw})
}

// RevokeKey deactivates one of the caller's keys
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	info, _ := stellarhttp.UserFromContext(r.Context())
	keyID := chi.URLParam(r, "keyID")

	revoked, err := h.config.Manager.RevokeAPIKey(r.Context(), info.UserID, keyID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if !revoked {
		h.handleError(w, r, errKeyNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, RevokeResponse{Revoked: true})
}

// ListEvents returns the caller's subscription audit trail
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	info, _ := stellarhttp.UserFromContext(r.Context())

	events, err := h.config.Manager.ListSubscriptionEvents(r.Context(), info.UserID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events})
}

// Checkout starts a purchase with the active provider
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if !h.requireProvider(w, r) {
		return
	}
	var req CheckoutRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	info, _ := stellarhttp.UserFromContext(r.Context())

	if req.SuccessURL == "" {
		req.SuccessURL = h.config.SuccessURL
	}
	if req.CancelURL == "" {
		req.CancelURL = h.config.CancelURL
	}

	t, _ := tier.Parse(req.Tier)
	result, err := h.config.Provider.CreateCheckout(r.Context(), t, info.Email, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.billingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Subscribe completes a purchase for providers that charge in-service and
// applies the resulting subscription_created event immediately
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.requireProvider(w, r) {
		return
	}
	subscriber, ok := h.config.Provider.(billing.Subscriber)
	if !ok {
		h.handleError(w, r, billing.ErrNotSupported, http.StatusNotImplemented)
		return
	}
	var req SubscribeRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	info, _ := stellarhttp.UserFromContext(r.Context())

	t, _ := tier.Parse(req.Tier)
	ev, err := subscriber.Subscribe(r.Context(), billing.SubscribeRequest{
		UserID:      info.UserID,
		Email:       info.Email,
		CustomerKey: req.CustomerKey,
		AuthKey:     req.AuthKey,
		Tier:        t,
	})
	if err != nil {
		h.billingError(w, r, err)
		return
	}

	if _, err := h.config.Dispatcher.Apply(r.Context(), ev); err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SubscriptionResponse{
		Tier:           ev.PlanTier,
		SubscriptionID: ev.SubscriptionID,
	})
}

// Portal returns the provider's self-service page for the caller
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	if !h.requireProvider(w, r) {
		return
	}
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	handle := billing.PortalHandle(h.config.Provider, user.ProviderCustomerID, user.ProviderSubscriptionID)
	if handle == "" {
		h.handleError(w, r, errNoSubscription, http.StatusNotFound)
		return
	}

	url, err := h.config.Provider.PortalURL(r.Context(), handle)
	if err != nil {
		h.billingError(w, r, err)
		return
	}
	if url == "" {
		h.handleError(w, r, errNoSubscription, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, PortalResponse{URL: url})
}

// Cancel stops future billing. Providers that notify by webhook move the tier
// later; in-service providers are downgraded here.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.requireProvider(w, r) {
		return
	}
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if user.ProviderSubscriptionID == nil || *user.ProviderSubscriptionID == "" {
		h.handleError(w, r, errNoSubscription, http.StatusNotFound)
		return
	}
	// In-service cancels downgrade at once, so a free user has nothing left to cancel
	_, inService := h.config.Provider.(billing.Subscriber)
	if inService && user.Tier == tier.Free {
		h.handleError(w, r, errNoSubscription, http.StatusNotFound)
		return
	}

	cancelled, err := h.config.Provider.CancelSubscription(r.Context(), *user.ProviderSubscriptionID)
	if err != nil {
		h.billingError(w, r, err)
		return
	}

	current := user.Tier
	if cancelled && inService {
		ev := &billing.WebhookEvent{
			Provider:       h.config.Provider.Name(),
			EventType:      billing.EventSubscriptionCancelled,
			CustomerEmail:  user.Email,
			PlanTier:       tier.Free,
			SubscriptionID: *user.ProviderSubscriptionID,
		}
		if _, err := h.config.Dispatcher.Apply(r.Context(), ev); err != nil {
			h.internalError(w, r, err)
			return
		}
		current = tier.Free
	}

	writeJSON(w, http.StatusOK, SubscriptionResponse{
		Tier:           current,
		SubscriptionID: *user.ProviderSubscriptionID,
		Cancelled:      cancelled,
	})
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	info, _ := stellarhttp.UserFromContext(r.Context())
	user, err := h.config.Manager.GetUser(r.Context(), info.UserID)
	if err != nil {
		h.internalError(w, r, err)
		return nil, false
	}
	if user == nil {
		h.handleError(w, r, auth.ErrUserNotFound, http.StatusNotFound)
		return nil, false
	}
	return user, true
}

func (h *Handler) requireProvider(w http.ResponseWriter, r *http.Request) bool {
	if h.config.Provider == nil {
		h.handleError(w, r, billing.ErrProviderNotConfigured, http.StatusServiceUnavailable)
		return false
	}
	return true
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted only when allowEmpty is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !errors.Is(err, io.EOF) || !allowEmpty {
			h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		h.handleError(w, r, validationError(err), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) managerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		h.handleError(w, r, err, http.StatusBadRequest)
	case errors.Is(err, auth.ErrQuotaExceeded):
		h.handleError(w, r, err, http.StatusForbidden)
	case errors.Is(err, auth.ErrUserNotFound):
		h.handleError(w, r, err, http.StatusNotFound)
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) billingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, billing.ErrUnknownTier), errors.Is(err, auth.ErrInvalidEmail):
		h.handleError(w, r, err, http.StatusBadRequest)
	case errors.Is(err, billing.ErrNotSupported):
		h.handleError(w, r, err, http.StatusNotImplemented)
	case errors.Is(err, billing.ErrProviderNotConfigured):
		h.handleError(w, r, err, http.StatusServiceUnavailable)
	case errors.Is(err, billing.ErrProviderAPIError):
		h.config.Logger.Warn("billing provider call failed",
			auth.Field{Key: "provider", Value: h.config.Provider.Name()},
			auth.ErrorField(err),
		)
		h.handleError(w, r, billing.ErrProviderAPIError, http.StatusBadGateway)
	default:
		h.internalError(w, r, err)
	}
}

// internalError logs err and answers with a generic 500
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.config.Logger.Error("request failed",
		auth.Field{Key: "path", Value: r.URL.Path},
		auth.Field{Key: "request_id", Value: middleware.GetReqID(r.Context())},
		auth.ErrorField(err),
	)
	h.handleError(w, r, errors.New("internal server error"), http.StatusInternalServerError)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err, statusCode)
		return
	}
	writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
