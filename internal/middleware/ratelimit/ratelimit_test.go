package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterPerUser(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()
	rl.now = func() time.Time { return now }

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	send := func(user string) int {
		req := httptest.NewRequest("POST", "/api/v1/chat", nil)
		req.Header.Set("X-User-ID", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, send("alice"))
	assert.Equal(t, fiber.StatusOK, send("alice"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("alice"))
	assert.Equal(t, fiber.StatusOK, send("bob"), "buckets are per user")

	now = now.Add(30 * time.Second)
	assert.Equal(t, fiber.StatusOK, send("alice"), "one token refills every half minute")
	assert.Equal(t, fiber.StatusTooManyRequests, send("alice"))
}

func TestEvictIdle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := New(Config{MaxRequestsPerMinute: 1})
	defer rl.Stop()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	now = now.Add(11 * time.Minute)
	rl.evictIdle(10 * time.Minute)

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.buckets)
}
