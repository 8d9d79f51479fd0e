package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/pkg/logger"
)

// UpsertDocument inserts doc or refreshes its title, counts and update time.
func (c *Client) UpsertDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, title, source_uri, content_type, page_count, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source_uri = excluded.source_uri,
			page_count = excluded.page_count,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.SourceURI,
		doc.ContentType,
		doc.PageCount,
		doc.ChunkCount,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	logger.Debug("Document stored", zap.String("doc_id", doc.ID), zap.String("title", doc.Title))
	return nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT id, title, source_uri, content_type, page_count, chunk_count, created_at, updated_at FROM documents WHERE id = ?`

	var doc models.Document
	var contentType sql.NullString
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.Title,
		&doc.SourceURI,
		&contentType,
		&doc.PageCount,
		&doc.ChunkCount,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.ContentType = contentType.String
	doc.CreatedAt = time.Unix(createdAt, 0).UTC()
	doc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &doc, nil
}

// ReplaceChunks swaps the stored chunks of a document in one transaction.
func (c *Client) ReplaceChunks(ctx context.Context, docID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, doc_id, chunk_index, page, text, embedding_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx,
			chunk.ID,
			docID,
			chunk.ChunkIndex,
			chunk.Page,
			chunk.Text,
			chunk.EmbeddingID,
			chunk.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

func (c *Client) CountChunks(ctx context.Context, docID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE doc_id = ?`, docID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
