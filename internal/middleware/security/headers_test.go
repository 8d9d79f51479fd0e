package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(CORSMiddleware())
	app.Use(HeadersMiddleware(HeadersConfig{AllowedOrigins: []string{"https://archive.example.org"}}))
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message is required"})
	})
	return app
}

func TestCORSHeadersOnEveryResponse(t *testing.T) {
	resp, err := newApp().Test(httptest.NewRequest("POST", "/api/v1/chat", nil))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "GET,POST,OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "https://archive.example.org")
	assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestPreflight(t *testing.T) {
	resp, err := newApp().Test(httptest.NewRequest("OPTIONS", "/api/v1/chat", nil))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestDevelopmentSkipsHSTS(t *testing.T) {
	app := fiber.New()
	app.Use(HeadersMiddleware(HeadersConfig{IsDevelopment: true}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestAPIKeyMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/open", APIKeyMiddleware(""), func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/admin", APIKeyMiddleware("s3cret"), func(c *fiber.Ctx) error { return c.SendString("ok") })

	status := func(path, key string) int {
		req := httptest.NewRequest("GET", path, nil)
		if key != "" {
			req.Header.Set("X-Api-Key", key)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, status("/open", ""))
	assert.Equal(t, fiber.StatusUnauthorized, status("/admin", ""))
	assert.Equal(t, fiber.StatusUnauthorized, status("/admin", "wrong"))
	assert.Equal(t, fiber.StatusOK, status("/admin", "s3cret"))
}
