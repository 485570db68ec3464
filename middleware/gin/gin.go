// Package gin provides Gin middleware that authenticates API keys
package gin

import (
	"errors"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	stellarhttp "github.com/stellar-memory/stellar-auth/middleware/http"
	"github.com/stellar-memory/stellar-auth/pkg/auth"
)

// UserKey is the gin context key for the authenticated *auth.UserInfo
const UserKey = "stellar:user"

// TokenExtractor extracts the raw API key from a Gin context
// Return empty string if no key was presented
type TokenExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Manager is the auth manager instance
	Manager *auth.Manager

	// GetToken extracts the raw key (default: Authorization bearer)
	GetToken TokenExtractor

	// OnUnauthorized is called when the key is missing, malformed, unknown or revoked.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that resolves the bearer key to its owner
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.Manager == nil {
		panic("stellar-auth/gin: Config.Manager is required")
	}
	if cfg.GetToken == nil {
		cfg.GetToken = FromAuthorization()
	}

	return func(c *gongin.Context) {
		info, err := cfg.Manager.Authenticate(c.Request.Context(), cfg.GetToken(c))
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				if cfg.OnUnauthorized != nil {
					cfg.OnUnauthorized(c)
				} else {
					defaultUnauthorized(c)
				}
			} else {
				if cfg.OnError != nil {
					cfg.OnError(c, err)
				} else {
					defaultError(c, err)
				}
			}
			c.Abort()
			return
		}

		c.Header("X-Stellar-Tier", string(info.Tier))
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Manager.Limits(info.Tier).RateLimit))

		c.Set(UserKey, info)
		c.Request = c.Request.WithContext(stellarhttp.WithUser(c.Request.Context(), info))
		c.Next()
	}
}

// UserFromContext returns the user stored by Middleware
func UserFromContext(c *gongin.Context) (*auth.UserInfo, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	info, ok := v.(*auth.UserInfo)
	return info, ok
}

func defaultUnauthorized(c *gongin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="stellar"`)
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
}

func defaultError(c *gongin.Context, _ error) {
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "internal server error"})
}

// Common extractors for convenience

// FromAuthorization returns a TokenExtractor reading "Authorization: Bearer <key>"
func FromAuthorization() TokenExtractor {
	return func(c *gongin.Context) string {
		return stellarhttp.BearerToken(c.GetHeader("Authorization"))
	}
}

// FromHeader returns a TokenExtractor that reads the raw key from a header
func FromHeader(headerName string) TokenExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromQuery returns a TokenExtractor that reads the raw key from a query parameter
func FromQuery(name string) TokenExtractor {
	return func(c *gongin.Context) string {
		return c.Query(name)
	}
}
