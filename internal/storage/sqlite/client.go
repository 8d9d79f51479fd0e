package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_message TEXT NOT NULL,
		user_language TEXT NOT NULL,
		translated_query TEXT,
		ai_response TEXT NOT NULL,
		ai_response_type TEXT NOT NULL,
		original_response TEXT,
		response_language TEXT,
		processing_time_ms INTEGER NOT NULL,
		citations_count INTEGER NOT NULL DEFAULT 0,
		sources TEXT,
		PRIMARY KEY (conversation_id, timestamp_ms)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp_ms);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

	CREATE TABLE IF NOT EXISTS analytics (
		query_id TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT,
		conversation_id TEXT,
		language TEXT,
		query_length INTEGER NOT NULL DEFAULT 0,
		response_length INTEGER NOT NULL DEFAULT 0,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		translation_used INTEGER NOT NULL DEFAULT 0,
		knowledge_base_used INTEGER NOT NULL DEFAULT 0,
		citations_found INTEGER NOT NULL DEFAULT 0,
		response_type TEXT,
		fallback_used INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		error TEXT,
		PRIMARY KEY (query_id, timestamp_ms)
	);
	CREATE INDEX IF NOT EXISTS idx_analytics_timestamp ON analytics(timestamp_ms);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		source_uri TEXT NOT NULL,
		content_type TEXT,
		page_count INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		page INTEGER NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		embedding_id TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// PutConversation writes a turn, replacing any row with the same
// (conversation_id, timestamp) key.
func (c *Client) PutConversation(ctx context.Context, turn *models.ChatTurn) error {
	response, err := json.Marshal(turn.AIResponse)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	sources, err := json.Marshal(turn.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO conversations (
			conversation_id, timestamp_ms, session_id, user_id, user_message, user_language,
			translated_query, ai_response, ai_response_type, original_response, response_language,
			processing_time_ms, citations_count, sources)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(ctx, query,
		turn.ConversationID,
		turn.Timestamp.UnixMilli(),
		turn.SessionID,
		turn.UserID,
		turn.UserMessage,
		turn.UserLanguage,
		turn.TranslatedQuery,
		string(response),
		string(turn.AIResponseType),
		turn.OriginalResponse,
		turn.ResponseLanguage,
		turn.ProcessingTimeMs,
		turn.CitationsCount,
		string(sources),
	)
	if err != nil {
		return fmt.Errorf("failed to put conversation: %w", err)
	}

	logger.Debug("Conversation stored", zap.String("conversation_id", turn.ConversationID))
	return nil
}

// PutAnalytics writes a record, replacing any row with the same
// (query_id, timestamp) key.
func (c *Client) PutAnalytics(ctx context.Context, r *models.AnalyticsRecord) error {
	query := `
		INSERT OR REPLACE INTO analytics (
			query_id, timestamp_ms, user_id, session_id, conversation_id, language,
			query_length, response_length, processing_time_ms, translation_used,
			knowledge_base_used, citations_found, response_type, fallback_used, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		r.QueryID,
		r.Timestamp.UnixMilli(),
		r.UserID,
		nullString(r.SessionID),
		nullString(r.ConversationID),
		nullString(r.Language),
		r.QueryLength,
		r.ResponseLength,
		r.ProcessingTimeMs,
		r.TranslationUsed,
		r.KnowledgeBaseUsed,
		r.CitationsFound,
		nullString(string(r.ResponseType)),
		r.FallbackUsed,
		r.Success,
		nullString(r.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to put analytics: %w", err)
	}
	return nil
}

func (c *Client) ListAnalyticsSince(ctx context.Context, since time.Time) ([]models.AnalyticsRecord, error) {
	query := `
		SELECT query_id, timestamp_ms, user_id, session_id, conversation_id, language,
			query_length, response_length, processing_time_ms, translation_used,
			knowledge_base_used, citations_found, response_type, fallback_used, success, error
		FROM analytics
		WHERE timestamp_ms >= ?
		ORDER BY timestamp_ms DESC
	`

	rows, err := c.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer rows.Close()

	var records []models.AnalyticsRecord
	for rows.Next() {
		var r models.AnalyticsRecord
		var ts int64
		var sessionID, conversationID, language, responseType, errMsg sql.NullString

		if err := rows.Scan(
			&r.QueryID, &ts, &r.UserID, &sessionID, &conversationID, &language,
			&r.QueryLength, &r.ResponseLength, &r.ProcessingTimeMs, &r.TranslationUsed,
			&r.KnowledgeBaseUsed, &r.CitationsFound, &responseType, &r.FallbackUsed, &r.Success, &errMsg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analytics: %w", err)
		}

		r.Timestamp = time.UnixMilli(ts).UTC()
		r.SessionID = sessionID.String
		r.ConversationID = conversationID.String
		r.Language = language.String
		r.ResponseType = models.ResponseType(responseType.String)
		r.Error = errMsg.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListConversationsSince returns up to limit turns, newest first.
func (c *Client) ListConversationsSince(ctx context.Context, since time.Time, limit int) ([]models.ChatTurn, error) {
	return c.queryTurns(ctx, `
		SELECT conversation_id, timestamp_ms, session_id, user_id, user_message, user_language,
			translated_query, ai_response, ai_response_type, original_response, response_language,
			processing_time_ms, citations_count, sources
		FROM conversations
		WHERE timestamp_ms >= ?
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`, since.UnixMilli(), limit)
}

// GetConversation returns the turns of one conversation, oldest first.
func (c *Client) GetConversation(ctx context.Context, conversationID string) ([]models.ChatTurn, error) {
	return c.queryTurns(ctx, `
		SELECT conversation_id, timestamp_ms, session_id, user_id, user_message, user_language,
			translated_query, ai_response, ai_response_type, original_response, response_language,
			processing_time_ms, citations_count, sources
		FROM conversations
		WHERE conversation_id = ?
		ORDER BY timestamp_ms ASC
	`, conversationID)
}

func (c *Client) queryTurns(ctx context.Context, query string, args ...any) ([]models.ChatTurn, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var turns []models.ChatTurn
	for rows.Next() {
		var t models.ChatTurn
		var ts int64
		var response, responseType string
		var translated, original, responseLang, sources sql.NullString

		if err := rows.Scan(
			&t.ConversationID, &ts, &t.SessionID, &t.UserID, &t.UserMessage, &t.UserLanguage,
			&translated, &response, &responseType, &original, &responseLang,
			&t.ProcessingTimeMs, &t.CitationsCount, &sources,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		t.Timestamp = time.UnixMilli(ts).UTC()
		t.TranslatedQuery = translated.String
		t.AIResponseType = models.ResponseType(responseType)
		t.OriginalResponse = original.String
		t.ResponseLanguage = responseLang.String

		if err := json.Unmarshal([]byte(response), &t.AIResponse); err != nil {
			logger.Warn("Stored response is not valid JSON", zap.Error(err), zap.String("conversation_id", t.ConversationID))
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &t.Citations); err != nil {
				logger.Warn("Stored sources are not valid JSON", zap.Error(err), zap.String("conversation_id", t.ConversationID))
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
