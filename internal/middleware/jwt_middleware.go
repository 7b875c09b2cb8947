package middleware

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"
	"dukaan/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SessionCookie carries the JWT for browser clients.
const SessionCookie = "session"

const principalKey = "principal"

// AuthRequired is a Fiber middleware to check for a valid JWT token.
// The token is read from "Authorization: Bearer <token>" or the session cookie.
// An expired session cookie is cleared.
func AuthRequired(authService *services.AuthService, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, fromCookie, err := extractToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": err.Error(),
				"code":    apperr.KindUnauthenticated,
			})
		}

		principal, err := authService.ResolvePrincipal(c.UserContext(), tokenString)
		if err != nil {
			logger.Debug("JWT validation failed", "path", c.Path(), "error", err)
			if errors.Is(err, services.ErrTokenExpired) {
				if fromCookie {
					ClearSession(c)
				}
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"message": "Session expired, please log in again",
					"code":    apperr.KindUnauthenticated,
				})
			}
			kind := apperr.KindOf(err)
			return c.Status(apperr.HTTPStatus(kind)).JSON(fiber.Map{
				"message": "Invalid or expired token",
				"code":    kind,
			})
		}

		// Store the principal in Fiber context for subsequent handlers
		c.Locals(principalKey, *principal)
		return c.Next()
	}
}

// RequireRoles rejects principals whose role is not listed. It must run after AuthRequired.
func RequireRoles(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := CurrentPrincipal(c)
		for _, r := range roles {
			if p.Is(r) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "Your role cannot use this endpoint",
			"code":    apperr.KindForbidden,
		})
	}
}

// CurrentPrincipal returns the principal stored by AuthRequired.
func CurrentPrincipal(c *fiber.Ctx) models.Principal {
	p, _ := c.Locals(principalKey).(models.Principal)
	return p
}

// SetSession stores token in an HTTP-only cookie.
func SetSession(c *fiber.Ctx, token string, ttl time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClearSession expires the session cookie.
func ClearSession(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func extractToken(c *fiber.Ctx) (token string, fromCookie bool, err error) {
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		// Expected format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") || parts[1] == "" {
			return "", false, errors.New("authorization header format must be 'Bearer <token>'")
		}
		return parts[1], false, nil
	}
	if cookie := c.Cookies(SessionCookie); cookie != "" {
		return cookie, true, nil
	}
	return "", false, errors.New("authorization header or session cookie is required")
}
