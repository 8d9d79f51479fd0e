package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archive-agent/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleTurn(ts time.Time) *models.ChatTurn {
	return &models.ChatTurn{
		ConversationID: "conv-1",
		SessionID:      "session-1",
		UserID:         "anonymous",
		Timestamp:      ts,
		UserMessage:    "¿Qué pasó en 1918?",
		UserLanguage:   "es",
		AIResponse: models.StoryContent{
			Story:              models.Story{Title: "Flu", Narrative: "Branches nursed the sick."},
			SuggestedFollowUps: models.FlexList{"a", "b"},
		},
		AIResponseType:   models.ResponseStructured,
		OriginalResponse: "{}",
		ResponseLanguage: "es",
		ProcessingTimeMs: 1200,
		CitationsCount:   1,
		Citations:        []models.Citation{{Title: "Minutes", Source: "Archives", Page: "N/A", Confidence: 0.8}},
	}
}

func TestPutConversationRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 123_000_000, time.UTC)

	require.NoError(t, c.PutConversation(ctx, sampleTurn(ts)))
	require.NoError(t, c.PutConversation(ctx, sampleTurn(ts)), "put with the same key replaces")

	turns, err := c.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)

	got := turns[0]
	assert.Equal(t, ts, got.Timestamp)
	assert.Equal(t, "Branches nursed the sick.", got.AIResponse.Story.Narrative.String())
	assert.Equal(t, models.ResponseStructured, got.AIResponseType)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, 0.8, got.Citations[0].Confidence)
}

func TestListConversationsSince(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.PutConversation(ctx, sampleTurn(base.Add(time.Duration(i)*time.Hour))))
	}

	turns, err := c.ListConversationsSince(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.True(t, turns[0].Timestamp.After(turns[1].Timestamp))
}

func TestPutAnalytics(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, c.PutAnalytics(ctx, &models.AnalyticsRecord{
		QueryID:           "query_1",
		Timestamp:         ts,
		UserID:            "anonymous",
		SessionID:         "s",
		ConversationID:    "c",
		Language:          "fr",
		QueryLength:       12,
		ResponseLength:    400,
		ProcessingTimeMs:  900,
		TranslationUsed:   true,
		KnowledgeBaseUsed: true,
		CitationsFound:    2,
		ResponseType:      models.ResponseNarrative,
		FallbackUsed:      true,
		Success:           true,
	}))
	require.NoError(t, c.PutAnalytics(ctx, &models.AnalyticsRecord{
		QueryID:   "query_2",
		Timestamp: ts.Add(time.Minute),
		UserID:    "unknown",
		Error:     "boom",
	}))

	records, err := c.ListAnalyticsSince(ctx, ts)
	require.NoError(t, err)
	require.Len(t, records, 2)

	failure, success := records[0], records[1]
	assert.False(t, failure.Success)
	assert.Equal(t, "boom", failure.Error)
	assert.Empty(t, failure.Language)

	assert.Equal(t, "fr", success.Language)
	assert.True(t, success.TranslationUsed)
	assert.True(t, success.FallbackUsed)
	assert.Equal(t, models.ResponseNarrative, success.ResponseType)
	assert.Equal(t, ts, success.Timestamp)
}

func TestDocumentsAndChunks(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := c.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	doc := &models.Document{ID: "doc-1", Title: "Minutes", SourceURI: "file://minutes.pdf", ContentType: "application/pdf", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, c.UpsertDocument(ctx, doc))

	chunks := []models.DocumentChunk{
		{ID: "doc-1-0", ChunkIndex: 0, Page: 1, Text: "first", CreatedAt: now},
		{ID: "doc-1-1", ChunkIndex: 1, Page: 2, Text: "second", CreatedAt: now},
	}
	require.NoError(t, c.ReplaceChunks(ctx, "doc-1", chunks))
	require.NoError(t, c.ReplaceChunks(ctx, "doc-1", chunks[:1]))

	n, err := c.CountChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc.ChunkCount = 1
	doc.PageCount = 2
	require.NoError(t, c.UpsertDocument(ctx, doc))

	got, err := c.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, "application/pdf", got.ContentType)
}
