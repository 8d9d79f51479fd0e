package chat

import (
	"github.com/archive-agent/backend/internal/storage/models"
)

// Request is one inbound chat turn. Empty optional fields are defaulted by
// the orchestrator.
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	Language       string `json:"language,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

type Metadata struct {
	KnowledgeBaseUsed  bool `json:"knowledgeBaseUsed"`
	CitationsFound     int  `json:"citationsFound"`
	ResponseStructured bool `json:"responseStructured"`
	FallbackUsed       bool `json:"fallbackUsed"`
}

type Response struct {
	Response        models.StoryContent `json:"response"`
	ResponseType    models.ResponseType `json:"responseType"`
	RawResponse     string              `json:"rawResponse"`
	Sources         []models.Citation   `json:"sources"`
	ConversationID  string              `json:"conversationId"`
	SessionID       string              `json:"sessionId"`
	Language        string              `json:"language"`
	ProcessingTime  int64               `json:"processingTime"`
	TranslationUsed bool                `json:"translationUsed"`
	Timestamp       string              `json:"timestamp"`
	Metadata        Metadata            `json:"metadata"`
}

// ErrorResponse is the body returned when a request fails outside the
// guarded pipeline stages.
type ErrorResponse struct {
	Response     models.StoryContent `json:"response"`
	ResponseType models.ResponseType `json:"responseType"`
	Error        string              `json:"error"`
	Timestamp    string              `json:"timestamp"`
}

// TimestampLayout renders instants as UTC RFC 3339 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
