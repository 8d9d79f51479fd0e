package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/archive-agent/backend/internal/dashboard"
	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/pkg/logger"
)

type AnalyticsSource interface {
	ListAnalyticsSince(ctx context.Context, since time.Time) ([]models.AnalyticsRecord, error)
	ListConversationsSince(ctx context.Context, since time.Time, limit int) ([]models.ChatTurn, error)
	GetConversation(ctx context.Context, conversationID string) ([]models.ChatTurn, error)
}

type AdminHandler struct {
	source AnalyticsSource
	now    func() time.Time
}

func NewAdminHandler(source AnalyticsSource) *AdminHandler {
	return &AdminHandler{source: source, now: time.Now}
}

func (h *AdminHandler) GetAnalytics(c *fiber.Ctx) error {
	timeRange := c.Query("range", dashboard.DefaultRange)
	since, err := dashboard.Since(timeRange, h.now())
	if errors.Is(err, dashboard.ErrUnknownRange) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "range must be one of 7d, 30d, 90d",
		})
	}

	var analytics []models.AnalyticsRecord
	var conversations []models.ChatTurn

	g, ctx := errgroup.WithContext(c.UserContext())
	g.Go(func() error {
		var err error
		analytics, err = h.source.ListAnalyticsSince(ctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		conversations, err = h.source.ListConversationsSince(ctx, since, dashboard.ConversationLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("Failed to fetch analytics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch analytics",
		})
	}

	return c.JSON(dashboard.Build(timeRange, analytics, conversations))
}

func (h *AdminHandler) GetConversation(c *fiber.Ctx) error {
	turns, err := h.source.GetConversation(c.UserContext(), c.Params("conversationId"))
	if err != nil {
		logger.Error("Failed to fetch conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch conversation",
		})
	}
	if len(turns) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}
	return c.JSON(fiber.Map{"turns": turns})
}
