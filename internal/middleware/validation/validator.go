package validation

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxMessageLength    int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects unsupported request bodies and oversized chat messages.
// Malformed JSON is left to the handler so it can answer with its own error.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedContentType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(c.Path(), "/chat") {
			var req struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(c.Body(), &req); err == nil {
				if utf8.RuneCountInString(req.Message) > cfg.MaxMessageLength {
					cfg.Logger.Warn("Message too long",
						zap.String("ip", c.IP()),
						zap.Int("length", utf8.RuneCountInString(req.Message)),
					)
					return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
						"error": "Message exceeds maximum length",
					})
				}
			}
		}

		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	contentType = strings.ToLower(contentType)
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}
