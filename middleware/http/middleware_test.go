package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stellar-memory/stellar-auth/pkg/apikey"
	"github.com/stellar-memory/stellar-auth/pkg/auth"
	"github.com/stellar-memory/stellar-auth/storage/memory"
)

// errorStorage fails every key lookup
type errorStorage struct {
	*memory.Storage
}

func (s *errorStorage) LookupAPIKey(_ context.Context, _ string) (*auth.UserInfo, error) {
	return nil, errors.New("connection refused")
}

func setupManager(t *testing.T) (*auth.Manager, string) {
	t.Helper()

	manager, err := auth.NewManager(memory.New(), auth.Config{})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	_, raw, err := manager.RegisterUser(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Failed to register user: %v", err)
	}
	return manager, raw
}

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := UserFromContext(r.Context())
		if !ok {
			t.Error("Expected user in context")
			return
		}
		_, _ = w.Write([]byte(info.Email))
	})
}

func TestMiddleware_Authenticates(t *testing.T) {
	manager, raw := setupManager(t)
	handler := Middleware(Config{Manager: manager})(echoUser(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/memories", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "alice@example.com" {
		t.Errorf("Expected alice@example.com, got %s", rec.Body.String())
	}
	if rec.Header().Get("X-Stellar-Tier") != "free" {
		t.Errorf("Expected free tier header, got %q", rec.Header().Get("X-Stellar-Tier"))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("Expected rate limit 60, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	manager, raw := setupManager(t)
	handler := Middleware(Config{Manager: manager})(echoUser(t))

	unknown, err := apikey.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + raw},
		{"malformed", "Bearer sk-stellar-nothex"},
		{"unknown key", "Bearer " + unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("Expected WWW-Authenticate challenge")
			}
		})
	}
}

func TestMiddleware_RevokedKey(t *testing.T) {
	manager, raw := setupManager(t)
	ctx := context.Background()

	info, err := manager.Authenticate(ctx, raw)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if _, err := manager.RevokeAPIKey(ctx, info.UserID, info.KeyID); err != nil {
		t.Fatalf("RevokeAPIKey failed: %v", err)
	}

	var called bool
	handler := Middleware(Config{
		Manager:        manager,
		OnUnauthorized: func(w http.ResponseWriter, r *http.Request) { called = true; w.WriteHeader(http.StatusForbidden) },
	})(echoUser(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusForbidden {
		t.Errorf("Expected custom unauthorized handler, got status %d", rec.Code)
	}
}

func TestMiddleware_StorageError(t *testing.T) {
	manager, err := auth.NewManager(&errorStorage{Storage: memory.New()}, auth.Config{})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	raw, _ := apikey.Generate()

	var gotErr error
	handler := Middleware(Config{
		Manager: manager,
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			gotErr = err
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})(echoUser(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
	if gotErr == nil {
		t.Error("Expected OnError to receive the storage error")
	}
}

func TestMiddleware_FromHeader(t *testing.T) {
	manager, raw := setupManager(t)
	handler := HandlerFunc(Config{Manager: manager, GetToken: FromHeader("X-API-Key")})(echoUser(t).ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", raw)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestMiddleware_FromQuery(t *testing.T) {
	manager, raw := setupManager(t)
	handler := Middleware(Config{Manager: manager, GetToken: FromQuery("api_key")})(echoUser(t))

	req := httptest.NewRequest(http.MethodGet, "/?api_key="+raw, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Bearer abc", "abc"},
		{"bearer   abc  ", "abc"},
		{"BEARER abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BearerToken(tt.in); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMiddleware_PanicsWithoutManager(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing manager")
		}
	}()
	Middleware(Config{})
}
