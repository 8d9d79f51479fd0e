package security

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// APIKeyMiddleware requires X-Api-Key to match key. An empty key disables
// the check.
func APIKeyMiddleware(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return c.Next()
		}
		if subtle.ConstantTimeCompare([]byte(c.Get("X-Api-Key")), []byte(key)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		return c.Next()
	}
}
