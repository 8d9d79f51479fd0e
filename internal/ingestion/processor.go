package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/kg/neo4j"
	"github.com/archive-agent/backend/internal/metrics"
	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/internal/vector"
	"github.com/archive-agent/backend/pkg/logger"
	"github.com/archive-agent/backend/pkg/utils"
)

var ErrNoContent = errors.New("no text extracted from document")

const embeddingBatchSize = 64

type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *models.Document) error
	ReplaceChunks(ctx context.Context, docID string, chunks []models.DocumentChunk) error
}

// PageIndexer adds the entities of a page to the mention graph.
type PageIndexer interface {
	IndexPage(ctx context.Context, doc neo4j.DocumentRef, page int, text string) (int, error)
}

type IngestResult struct {
	DocumentID string
	Chunks     int
	Entities   int
}

type Processor struct {
	db           DocumentStore
	vectors      vector.Store
	embedder     Embedder
	graph        PageIndexer
	corpus       string
	chunkSize    int
	chunkOverlap int
	now          func() time.Time
}

// NewProcessor wires the ingestion sinks. graph may be nil.
func NewProcessor(db DocumentStore, vectors vector.Store, embedder Embedder, graph PageIndexer, corpus string, chunkSize, chunkOverlap int) *Processor {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Processor{
		db:           db,
		vectors:      vectors,
		embedder:     embedder,
		graph:        graph,
		corpus:       corpus,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		now:          time.Now,
	}
}

// Ingest chunks and embeds an extracted document into the corpus, records
// it in sqlite and indexes its entities. Re-ingesting identical text
// replaces the previous chunks.
func (p *Processor) Ingest(ctx context.Context, sourceURI string, ex *Extraction) (*IngestResult, error) {
	result, err := p.ingest(ctx, sourceURI, ex)
	if err != nil {
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.DocumentsProcessed.WithLabelValues("succeeded").Inc()
	return result, nil
}

func (p *Processor) ingest(ctx context.Context, sourceURI string, ex *Extraction) (*IngestResult, error) {
	logger.Info("Ingesting document", zap.String("source", sourceURI), zap.Int("pages", len(ex.Pages)))

	chunks := ChunkPages(ex.Pages, p.chunkSize, p.chunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	docID := utils.ContentHash([]byte(strings.Join(texts, "\n")))

	embeddings, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	now := p.now()
	vectorChunks := make([]vector.Chunk, len(chunks))
	dbChunks := make([]models.DocumentChunk, len(chunks))
	for i, c := range chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", docID, c.Index)
		vectorChunks[i] = vector.Chunk{
			ID:         chunkID,
			DocumentID: docID,
			Title:      ex.Title,
			SourceURI:  sourceURI,
			Page:       c.Page,
			Text:       c.Text,
			Embedding:  embeddings[i],
			Timestamp:  now,
		}
		dbChunks[i] = models.DocumentChunk{
			ID:          chunkID,
			DocID:       docID,
			ChunkIndex:  c.Index,
			Page:        c.Page,
			Text:        c.Text,
			EmbeddingID: chunkID,
			CreatedAt:   now,
		}
	}

	if err := p.vectors.EnsureCorpus(ctx, p.corpus); err != nil {
		return nil, fmt.Errorf("failed to prepare corpus: %w", err)
	}
	if err := p.vectors.Upsert(ctx, p.corpus, vectorChunks); err != nil {
		return nil, fmt.Errorf("failed to insert into vector store: %w", err)
	}
	metrics.ChunksIndexed.Add(float64(len(vectorChunks)))

	doc := &models.Document{
		ID:          docID,
		Title:       ex.Title,
		SourceURI:   sourceURI,
		ContentType: ex.ContentType,
		PageCount:   len(ex.Pages),
		ChunkCount:  len(chunks),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.db.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := p.db.ReplaceChunks(ctx, docID, dbChunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	entities := p.indexEntities(ctx, neo4j.DocumentRef{ID: docID, Title: ex.Title, URI: sourceURI}, ex.Pages)

	logger.Info("Document ingested",
		zap.String("doc_id", docID),
		zap.String("title", ex.Title),
		zap.Int("chunks", len(chunks)),
		zap.Int("entities", entities),
	)

	return &IngestResult{DocumentID: docID, Chunks: len(chunks), Entities: entities}, nil
}

func (p *Processor) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(texts))
		batch, err := p.embedder.GenerateBatchEmbeddings(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(batch), end-start)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// indexEntities is best effort. The corpus is usable without the graph.
func (p *Processor) indexEntities(ctx context.Context, doc neo4j.DocumentRef, pages []Page) int {
	if p.graph == nil {
		return 0
	}

	total := 0
	for _, page := range pages {
		n, err := p.graph.IndexPage(ctx, doc, page.Number, page.Text)
		if err != nil {
			metrics.StageFailures.WithLabelValues("entity_index").Inc()
			logger.Warn("Failed to index page entities",
				zap.Error(err),
				zap.String("doc_id", doc.ID),
				zap.Int("page", page.Number),
			)
			continue
		}
		total += n
	}
	return total
}
