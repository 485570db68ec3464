// Package fiber provides Fiber middleware that authenticates API keys
package fiber

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	stellarhttp "github.com/stellar-memory/stellar-auth/middleware/http"
	"github.com/stellar-memory/stellar-auth/pkg/auth"
)

// UserKey is the Locals key for the authenticated *auth.UserInfo
const UserKey = "stellar:user"

// TokenExtractor extracts the raw API key from a Fiber context
// Return empty string if no key was presented
type TokenExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// Manager is the auth manager instance
	Manager *auth.Manager

	// GetToken extracts the raw key (default: Authorization bearer)
	GetToken TokenExtractor

	// OnUnauthorized is called when the key is missing, malformed, unknown or revoked.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that resolves the bearer key to its owner
func Middleware(cfg Config) fiber.Handler {
	if cfg.Manager == nil {
		panic("stellar-auth/fiber: Config.Manager is required")
	}
	if cfg.GetToken == nil {
		cfg.GetToken = FromAuthorization()
	}

	return func(c *fiber.Ctx) error {
		// Fiber uses fasthttp, so the request context lives in c.UserContext()
		ctx := c.UserContext()

		info, err := cfg.Manager.Authenticate(ctx, cfg.GetToken(c))
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

		c.Set("X-Stellar-Tier", string(info.Tier))
		c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Manager.Limits(info.Tier).RateLimit))

		c.Locals(UserKey, info)
		c.SetUserContext(stellarhttp.WithUser(ctx, info))
		return c.Next()
	}
}

// UserFromContext returns the user stored by Middleware
func UserFromContext(c *fiber.Ctx) (*auth.UserInfo, bool) {
	info, ok := c.Locals(UserKey).(*auth.UserInfo)
	return info, ok && info != nil
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="stellar"`)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultError(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// Convenience extractors

// FromAuthorization returns a TokenExtractor reading "Authorization: Bearer <key>"
func FromAuthorization() TokenExtractor {
	return func(c *fiber.Ctx) string {
		return stellarhttp.BearerToken(c.Get(fiber.HeaderAuthorization))
	}
}

// FromHeader returns a TokenExtractor that reads the raw key from a header
func FromHeader(headerName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromQuery returns a TokenExtractor that reads the raw key from a query parameter
func FromQuery(queryName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}
