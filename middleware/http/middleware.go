// Package http provides net/http middleware that authenticates API keys
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
)

// TokenExtractor extracts the raw API key from an HTTP request.
// Return empty string if no key was presented.
type TokenExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Manager is the auth manager instance (required)
	Manager *auth.Manager

	// GetToken extracts the raw key from the request.
	// Default: FromAuthorization()
	GetToken TokenExtractor

	// OnUnauthorized is called when the key is missing, malformed, unknown or revoked.
	// If nil, returns 401 Unauthorized with a Bearer challenge
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserKey is the context key for the authenticated *auth.UserInfo
	UserKey ContextKey = "stellar:user"
)

// Middleware creates an HTTP middleware that resolves the bearer key to its owner
// and stores the result in the request context. The tier's rate limit is
// advertised in X-RateLimit-Limit for downstream enforcement.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Manager == nil {
		panic("stellar-auth/http: Config.Manager is required")
	}
	if config.GetToken == nil {
		config.GetToken = FromAuthorization()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := config.Manager.Authenticate(r.Context(), config.GetToken(r))
			if err != nil {
				if errors.Is(err, auth.ErrUnauthorized) {
					if config.OnUnauthorized != nil {
						config.OnUnauthorized(w, r)
					} else {
						w.Header().Set("WWW-Authenticate", `Bearer realm="stellar"`)
						http.Error(w, "Unauthorized", http.StatusUnauthorized)
					}
				} else {
					if config.OnError != nil {
						config.OnError(w, r, err)
					} else {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					}
				}
				return
			}

			limits := config.Manager.Limits(info.Tier)
			w.Header().Set("X-Stellar-Tier", string(info.Tier))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limits.RateLimit))

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), info)))
		})
	}
}

// HandlerFunc creates an HTTP middleware for http.HandlerFunc
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// WithUser returns a copy of ctx carrying info
func WithUser(ctx context.Context, info *auth.UserInfo) context.Context {
	return context.WithValue(ctx, UserKey, info)
}

// UserFromContext returns the user stored by Middleware
func UserFromContext(ctx context.Context) (*auth.UserInfo, bool) {
	info, ok := ctx.Value(UserKey).(*auth.UserInfo)
	return info, ok && info != nil
}

// FromAuthorization returns a TokenExtractor reading "Authorization: Bearer <key>"
func FromAuthorization() TokenExtractor {
	return func(r *http.Request) string {
		return BearerToken(r.Header.Get("Authorization"))
	}
}

// FromHeader returns a TokenExtractor that reads the raw key from a header
func FromHeader(headerName string) TokenExtractor {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(headerName))
	}
}

// FromQuery returns a TokenExtractor that reads the raw key from a query parameter
func FromQuery(name string) TokenExtractor {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}

// BearerToken strips the Bearer scheme from an Authorization value
func BearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
