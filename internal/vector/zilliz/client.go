package zilliz

import (
	"context"
	"fmt"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/vector"
	"github.com/archive-agent/backend/pkg/logger"
)

var outputFields = []string{"chunk_id", "document_id", "title", "source_uri", "page", "text"}

// Client stores each corpus as its own Milvus collection and ranks chunks by
// inner product over normalized embeddings.
type Client struct {
	client    client.Client
	vectorDim int

	mu    sync.Mutex
	ready map[string]bool
}

func NewClient(ctx context.Context, endpoint, apiKey string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.Int("vector_dim", vectorDim),
	)

	return &Client{
		client:    c,
		vectorDim: vectorDim,
		ready:     make(map[string]bool),
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) EnsureCorpus(ctx context.Context, corpus string) error {
	name := vector.CorpusName(corpus)

	z.mu.Lock()
	defer z.mu.Unlock()
	if z.ready[name] {
		return nil
	}

	has, err := z.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		if err := z.client.CreateCollection(ctx, z.schema(name), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := z.client.CreateIndex(ctx, name, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		logger.Info("Corpus collection created", zap.String("collection", name))
	}

	if err := z.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	z.ready[name] = true
	return nil
}

func (z *Client) schema(name string) *entity.Schema {
	varchar := func(field string, maxLen int) *entity.Field {
		return &entity.Field{
			Name:       field,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxLen)},
		}
	}

	chunkID := varchar("chunk_id", 64)
	chunkID.PrimaryKey = true

	return &entity.Schema{
		CollectionName: name,
		Description:    "Archive document chunks",
		Fields: []*entity.Field{
			chunkID,
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", z.vectorDim)},
			},
			varchar("document_id", 64),
			varchar("title", 512),
			varchar("source_uri", 1024),
			{Name: "page", DataType: entity.FieldTypeInt64},
			varchar("text", 8192),
			{Name: "timestamp", DataType: entity.FieldTypeInt64},
		},
	}
}

func (z *Client) Upsert(ctx context.Context, corpus string, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := z.EnsureCorpus(ctx, corpus); err != nil {
		return err
	}
	name := vector.CorpusName(corpus)

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	docIDs := make([]string, len(chunks))
	titles := make([]string, len(chunks))
	uris := make([]string, len(chunks))
	pages := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	timestamps := make([]int64, len(chunks))

	for i, chunk := range chunks {
		if len(chunk.Embedding) != z.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, collection expects %d", chunk.ID, len(chunk.Embedding), z.vectorDim)
		}
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		docIDs[i] = chunk.DocumentID
		titles[i] = chunk.Title
		uris[i] = chunk.SourceURI
		pages[i] = int64(chunk.Page)
		texts[i] = chunk.Text
		timestamps[i] = chunk.Timestamp.Unix()
	}

	_, err := z.client.Upsert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("source_uri", uris),
		entity.NewColumnInt64("page", pages),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("timestamp", timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks written to corpus",
		zap.String("collection", name),
		zap.Int("count", len(chunks)),
	)

	return nil
}

func (z *Client) Search(ctx context.Context, corpus string, embedding []float32, topK int) ([]vector.SearchResult, error) {
	if err := z.EnsureCorpus(ctx, corpus); err != nil {
		return nil, err
	}
	name := vector.CorpusName(corpus)

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		name,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]vector.SearchResult, 0, topK)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			results = append(results, vector.SearchResult{
				ChunkID:    stringAt(sr.Fields, "chunk_id", i),
				DocumentID: stringAt(sr.Fields, "document_id", i),
				Title:      stringAt(sr.Fields, "title", i),
				SourceURI:  stringAt(sr.Fields, "source_uri", i),
				Page:       int(int64At(sr.Fields, "page", i)),
				Text:       stringAt(sr.Fields, "text", i),
				Score:      sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.String("collection", name),
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

func stringAt(cols client.ResultSet, name string, i int) string {
	col := cols.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func int64At(cols client.ResultSet, name string, i int) int64 {
	col := cols.GetColumn(name)
	if col == nil {
		return 0
	}
	v, err := col.Get(i)
	if err != nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}
