package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/chat"
	"github.com/archive-agent/backend/pkg/logger"
)

type frameConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

type wsRequest struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	Language       string `json:"language"`
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type WebSocketHandler struct {
	chat ChatService
}

func NewWebSocketHandler(chat ChatService) *WebSocketHandler {
	return &WebSocketHandler{chat: chat}
}

// Upgrade rejects plain HTTP requests on the websocket route.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	connID := uuid.NewString()
	logger.Info("WebSocket connection established", zap.String("conn_id", connID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("conn_id", connID))
	}()

	h.serve(context.Background(), c, connID)
}

func (h *WebSocketHandler) serve(ctx context.Context, c frameConn, connID string) {
	for {
		var msg wsRequest
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err), zap.String("conn_id", connID))
			return
		}

		if msg.Type != "chat" {
			continue
		}

		if err := h.streamResponse(ctx, c, msg); err != nil {
			logger.Error("Failed to stream response", zap.Error(err), zap.String("conn_id", connID))
			return
		}
	}
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, c frameConn, msg wsRequest) error {
	if err := sendFrame(c, "content", "status", "Processing query..."); err != nil {
		return err
	}

	resp, err := h.chat.Handle(ctx, chat.Request{
		Message:        msg.Message,
		ConversationID: msg.ConversationID,
		Language:       msg.Language,
		SessionID:      msg.SessionID,
		UserID:         msg.UserID,
	})
	if errors.Is(err, chat.ErrMessageRequired) {
		return sendFrame(c, "error", "error", "Message is required")
	}
	if err != nil {
		queryID := h.chat.NewQueryID()
		logger.Error("WebSocket chat failed", zap.Error(err), zap.String("query_id", queryID))
		h.chat.RecordFailure(ctx, queryID, err)
		return sendFrame(c, "error", "error", "Internal server error")
	}

	words := splitIntoWords(string(resp.Response.Story.Narrative))
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := sendFrame(c, "content", "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]any{
		"type": "complete",
		"data": resp,
	})
}

func sendFrame(c frameConn, field, msgType, value string) error {
	return c.WriteJSON(map[string]any{
		"type": msgType,
		field:  value,
	})
}

// splitIntoWords splits on spaces and keeps newlines as their own tokens.
func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
