// Package middleware holds the fiber middleware guarding the admin API.
package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"sitealerts/internal/config"
)

// AdminBasicAuth validates HTTP basic credentials against the configured
// admin user and bcrypt password hash.
func AdminBasicAuth(cfg *config.Config, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.AdminPasswordHash == "" {
			logger.Warn("Admin API requested but no admin password hash is configured")
			return unauthorized(c)
		}

		user, password, ok := parseBasicAuth(c.Get("Authorization"))
		if !ok {
			return unauthorized(c)
		}

		if subtle.ConstantTimeCompare([]byte(user), []byte(cfg.AdminUser)) != 1 {
			// Burn a bcrypt comparison anyway so a wrong username costs the
			// same as a wrong password.
			_ = bcrypt.CompareHashAndPassword([]byte(cfg.AdminPasswordHash), []byte(password))
			return unauthorized(c)
		}

		if err := bcrypt.CompareHashAndPassword([]byte(cfg.AdminPasswordHash), []byte(password)); err != nil {
			return unauthorized(c)
		}

		return c.Next()
	}
}

func parseBasicAuth(header string) (user, password string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", "", false
	}
	user, password, ok = strings.Cut(string(decoded), ":")
	return user, password, ok
}

func unauthorized(c *fiber.Ctx) error {
	c.Set("WWW-Authenticate", `Basic realm="sitealerts admin"`)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Unauthorized",
	})
}
