package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/chat"
	"github.com/archive-agent/backend/internal/lang"
	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/internal/story"
	"github.com/archive-agent/backend/pkg/logger"
)

// ChatService is the part of the chat orchestrator the transports use.
type ChatService interface {
	Handle(ctx context.Context, req chat.Request) (*chat.Response, error)
	NewQueryID() string
	RecordFailure(ctx context.Context, queryID string, cause error)
}

type ChatHandler struct {
	chat ChatService
	now  func() time.Time
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat, now: time.Now}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	req, err := decodeChatRequest(c.Body())
	if err != nil {
		logger.Warn("Failed to parse chat request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.chat.Handle(c.UserContext(), req)
	if errors.Is(err, chat.ErrMessageRequired) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}
	if err != nil {
		queryID := h.chat.NewQueryID()
		logger.Error("Chat request failed", zap.Error(err), zap.String("query_id", queryID))
		h.chat.RecordFailure(c.UserContext(), queryID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(h.errorResponse())
	}

	return c.JSON(resp)
}

func (h *ChatHandler) errorResponse() chat.ErrorResponse {
	return chat.ErrorResponse{
		Response:     story.ServerErrorContent(),
		ResponseType: models.ResponseError,
		Error:        "Internal server error",
		Timestamp:    h.now().UTC().Format(chat.TimestampLayout),
	}
}

// decodeChatRequest treats an empty body as an empty object.
func decodeChatRequest(body []byte) (chat.Request, error) {
	var req chat.Request
	if len(body) == 0 {
		return req, nil
	}
	err := json.Unmarshal(body, &req)
	return req, err
}

func ListLanguages(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"languages": lang.Supported(),
		"default":   lang.Pivot,
	})
}
