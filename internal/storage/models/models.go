package models

import "time"

type ResponseType string

const (
	ResponseStructured ResponseType = "structured"
	ResponseNarrative  ResponseType = "narrative"
	ResponseError      ResponseType = "error"
)

func (t ResponseType) Valid() bool {
	switch t {
	case ResponseStructured, ResponseNarrative, ResponseError:
		return true
	}
	return false
}

type Story struct {
	Title        FlexString `json:"title"`
	Narrative    FlexString `json:"narrative"`
	Timeline     FlexString `json:"timeline,omitempty"`
	Locations    FlexString `json:"locations,omitempty"`
	KeyPeople    FlexString `json:"keyPeople,omitempty"`
	WhyItMatters FlexString `json:"whyItMatters,omitempty"`
}

// StoryContent is the answer shape shared by every response type.
type StoryContent struct {
	Story              Story      `json:"story"`
	LessonsAndThemes   FlexList   `json:"lessonsAndThemes,omitempty"`
	ModernReflection   FlexString `json:"modernReflection,omitempty"`
	SuggestedFollowUps FlexList   `json:"suggestedFollowUps"`
}

type Citation struct {
	Title      string  `json:"title"`
	Source     string  `json:"source"`
	Page       string  `json:"page"`
	Confidence float64 `json:"confidence"`
	Excerpt    string  `json:"excerpt"`
}

// ChatTurn is one persisted user/assistant exchange.
type ChatTurn struct {
	ConversationID   string       `json:"conversationId"`
	SessionID        string       `json:"sessionId"`
	UserID           string       `json:"userId"`
	Timestamp        time.Time    `json:"timestamp"`
	UserMessage      string       `json:"userMessage"`
	UserLanguage     string       `json:"userLanguage"`
	TranslatedQuery  string       `json:"translatedQuery"`
	AIResponse       StoryContent `json:"aiResponse"`
	AIResponseType   ResponseType `json:"aiResponseType"`
	OriginalResponse string       `json:"originalResponse"`
	ResponseLanguage string       `json:"responseLanguage"`
	ProcessingTimeMs int64        `json:"processingTimeMs"`
	CitationsCount   int          `json:"citationsCount"`
	Citations        []Citation   `json:"sources"`
}

type AnalyticsRecord struct {
	QueryID           string       `json:"queryId"`
	Timestamp         time.Time    `json:"timestamp"`
	UserID            string       `json:"userId"`
	SessionID         string       `json:"sessionId,omitempty"`
	ConversationID    string       `json:"conversationId,omitempty"`
	Language          string       `json:"language,omitempty"`
	QueryLength       int          `json:"queryLength"`
	ResponseLength    int          `json:"responseLength"`
	ProcessingTimeMs  int64        `json:"processingTimeMs"`
	TranslationUsed   bool         `json:"translationUsed"`
	KnowledgeBaseUsed bool         `json:"knowledgeBaseUsed"`
	CitationsFound    int          `json:"citationsFound"`
	ResponseType      ResponseType `json:"responseType,omitempty"`
	FallbackUsed      bool         `json:"fallbackUsed"`
	Success           bool         `json:"success"`
	Error             string       `json:"error,omitempty"`
}

type Document struct {
	ID          string
	Title       string
	SourceURI   string
	ContentType string
	PageCount   int
	ChunkCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DocumentChunk struct {
	ID          string
	DocID       string
	ChunkIndex  int
	Page        int
	Text        string
	EmbeddingID string
	CreatedAt   time.Time
}

// KGEntity is a named person or place mentioned in the archive.
type KGEntity struct {
	Name string
	Type string
}
