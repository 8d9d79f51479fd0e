// Package knowledge answers questions from the archive corpus: it embeds the
// query, retrieves the closest chunks, adds entity graph facts and asks the
// model to answer from that context only.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/llm"
	"github.com/archive-agent/backend/internal/metrics"
	"github.com/archive-agent/backend/internal/vector"
	"github.com/archive-agent/backend/pkg/logger"
	"github.com/archive-agent/backend/pkg/utils"
)

var ErrEmptyQuery = errors.New("query text is empty")

const noResultsContext = "No archive documents matched this question."

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)
}

// EntityLookup returns prompt-ready facts about entities named in a query.
type EntityLookup interface {
	Lookup(ctx context.Context, query string) (string, int, error)
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Options struct {
	TopK     int
	MinScore float64
	CacheTTL time.Duration
}

type Service struct {
	embedder  Embedder
	store     vector.Store
	generator Generator
	graph     EntityLookup
	cache     EmbeddingCache
	opts      Options
}

// NewService builds the grounded-generation service. graph and cache may be nil.
func NewService(embedder Embedder, store vector.Store, generator Generator, graph EntityLookup, cache EmbeddingCache, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	return &Service{
		embedder:  embedder,
		store:     store,
		generator: generator,
		graph:     graph,
		cache:     cache,
		opts:      opts,
	}
}

func (s *Service) RetrieveAndGenerate(ctx context.Context, req GroundedRequest) (*GroundedResult, error) {
	query := strings.TrimSpace(req.QueryText)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.store.Search(ctx, req.CorpusID, embedding, s.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search corpus %s: %w", req.CorpusID, err)
	}

	results := make([]vector.SearchResult, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) >= s.opts.MinScore {
			results = append(results, h)
		}
	}
	metrics.VectorResultsCount.Observe(float64(len(results)))

	facts := s.lookupFacts(ctx, query)

	prompt := strings.NewReplacer(
		"$search_results$", buildContext(results, facts),
		"$query$", query,
	).Replace(req.PromptTemplate)

	resp, err := s.generator.Generate(ctx, llm.GenerateRequest{
		ModelID:  req.ModelID,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate grounded answer: %w", err)
	}

	logger.Info("Grounded answer generated",
		zap.String("corpus", req.CorpusID),
		zap.Int("chunks", len(results)),
		zap.Int("output_length", len(resp.OutputText)),
	)

	return &GroundedResult{
		OutputText: resp.OutputText,
		Citations:  toCitations(results),
	}, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if s.cache == nil {
		return s.embedder.GenerateEmbedding(ctx, text)
	}

	key := utils.HashString(text)
	if cached, ok, err := s.cache.GetEmbedding(ctx, key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		logger.Debug("Embedding cache read failed", zap.Error(err))
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetEmbedding(ctx, key, embedding, s.opts.CacheTTL); err != nil {
		logger.Debug("Embedding cache write failed", zap.Error(err))
	}
	return embedding, nil
}

// lookupFacts never fails the request: the graph only enriches the context.
func (s *Service) lookupFacts(ctx context.Context, query string) string {
	if s.graph == nil {
		return ""
	}
	facts, n, err := s.graph.Lookup(ctx, query)
	if err != nil {
		logger.Warn("Entity graph lookup failed", zap.Error(err))
		return ""
	}
	metrics.GraphResultsCount.Observe(float64(n))
	return facts
}

func buildContext(results []vector.SearchResult, facts string) string {
	if len(results) == 0 && facts == "" {
		return noResultsContext
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s", i+1, r.Title)
		if r.Page > 0 {
			fmt.Fprintf(&sb, " (page %d)", r.Page)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(r.Text))
		sb.WriteString("\n\n")
	}
	if facts != "" {
		sb.WriteString("Related people and places:\n")
		sb.WriteString(facts)
	}
	return strings.TrimSpace(sb.String())
}

func toCitations(results []vector.SearchResult) []Citation {
	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		metadata := map[string]any{MetadataScore: float64(r.Score)}
		if r.Page > 0 {
			metadata[MetadataPage] = r.Page
		}

		ref := RetrievedReference{
			Content:  &ReferenceContent{Text: r.Text},
			Metadata: metadata,
		}
		if r.SourceURI != "" {
			ref.Location = &ReferenceLocation{URI: r.SourceURI}
		}

		c := Citation{RetrievedReferences: []RetrievedReference{ref}}
		// Citations are per retrieved chunk, not per answer span, so the
		// response part carries the document title that callers display.
		if r.Title != "" {
			c.GeneratedResponsePart = &ResponsePart{TextResponsePart: &TextPart{Text: r.Title}}
		}
		citations = append(citations, c)
	}
	return citations
}
