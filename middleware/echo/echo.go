// Package echo provides Echo middleware that authenticates API keys
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	stellarhttp "github.com/stellar-memory/stellar-auth/middleware/http"
	"github.com/stellar-memory/stellar-auth/pkg/auth"
)

// UserKey is the echo context key for the authenticated *auth.UserInfo
const UserKey = "stellar:user"

// TokenExtractor extracts the raw API key from an Echo context
// Return empty string if no key was presented
type TokenExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Manager is the auth manager instance
	Manager *auth.Manager

	// GetToken extracts the raw key (default: Authorization bearer)
	GetToken TokenExtractor

	// OnUnauthorized is called when the key is missing, malformed, unknown or revoked.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that resolves the bearer key to its owner
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Manager == nil {
		panic("stellar-auth/echo: Config.Manager is required")
	}
	if cfg.GetToken == nil {
		cfg.GetToken = FromAuthorization()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			info, err := cfg.Manager.Authenticate(req.Context(), cfg.GetToken(c))
			if err != nil {
				if errors.Is(err, auth.ErrUnauthorized) {
					if cfg.OnUnauthorized != nil {
						return cfg.OnUnauthorized(c)
					}
					return defaultUnauthorized(c)
				}
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return defaultError(c, err)
			}

			c.Response().Header().Set("X-Stellar-Tier", string(info.Tier))
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Manager.Limits(info.Tier).RateLimit))

			c.Set(UserKey, info)
			c.SetRequest(req.WithContext(stellarhttp.WithUser(req.Context(), info)))
			return next(c)
		}
	}
}

// UserFromContext returns the user stored by Middleware
func UserFromContext(c echo.Context) (*auth.UserInfo, bool) {
	info, ok := c.Get(UserKey).(*auth.UserInfo)
	return info, ok && info != nil
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	c.Response().Header().Set("WWW-Authenticate", `Bearer realm="stellar"`)
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultError(c echo.Context, _ error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Convenience extractors

// FromAuthorization returns a TokenExtractor reading "Authorization: Bearer <key>"
func FromAuthorization() TokenExtractor {
	return func(c echo.Context) string {
		return stellarhttp.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}
}

// FromHeader returns a TokenExtractor that reads the raw key from a header
func FromHeader(headerName string) TokenExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromQuery returns a TokenExtractor that reads the raw key from a query parameter
func FromQuery(name string) TokenExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(name)
	}
}
