package pgvector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/vector"
	"github.com/archive-agent/backend/pkg/logger"
)

// Store keeps every corpus in one Postgres table, partitioned by a corpus
// column, and ranks chunks by cosine similarity.
type Store struct {
	pool      *pgxpool.Pool
	vectorDim int

	once    sync.Once
	initErr error
}

func New(ctx context.Context, dsn string, vectorDim int) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("pgvector store initialized", zap.Int("vector_dim", vectorDim))

	return &Store{pool: pool, vectorDim: vectorDim}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	s.once.Do(func() {
		statements := []string{
			`CREATE EXTENSION IF NOT EXISTS vector`,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS archive_chunks (
				corpus TEXT NOT NULL,
				chunk_id TEXT NOT NULL,
				document_id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				source_uri TEXT NOT NULL DEFAULT '',
				page INTEGER NOT NULL DEFAULT 0,
				content TEXT NOT NULL,
				embedding vector(%d) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (corpus, chunk_id)
			)`, s.vectorDim),
			`CREATE INDEX IF NOT EXISTS idx_archive_chunks_embedding
				ON archive_chunks USING hnsw (embedding vector_cosine_ops)`,
		}
		for _, stmt := range statements {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				s.initErr = fmt.Errorf("failed to migrate pgvector schema: %w", err)
				return
			}
		}
	})
	return s.initErr
}

// EnsureCorpus only needs the shared table to exist.
func (s *Store) EnsureCorpus(ctx context.Context, corpus string) error {
	return s.migrate(ctx)
}

func (s *Store) Upsert(ctx context.Context, corpus string, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}
	name := vector.CorpusName(corpus)

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		if len(chunk.Embedding) != s.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, store expects %d", chunk.ID, len(chunk.Embedding), s.vectorDim)
		}
		batch.Queue(
			`INSERT INTO archive_chunks (corpus, chunk_id, document_id, title, source_uri, page, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (corpus, chunk_id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				title = EXCLUDED.title,
				source_uri = EXCLUDED.source_uri,
				page = EXCLUDED.page,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding`,
			name, chunk.ID, chunk.DocumentID, chunk.Title, chunk.SourceURI, chunk.Page, chunk.Text,
			pgv.NewVector(chunk.Embedding), chunk.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", i, err)
		}
	}

	logger.Info("Chunks written to corpus",
		zap.String("corpus", name),
		zap.Int("count", len(chunks)),
	)
	return nil
}

func (s *Store) Search(ctx context.Context, corpus string, embedding []float32, topK int) ([]vector.SearchResult, error) {
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT chunk_id, document_id, title, source_uri, page, content, 1 - (embedding <=> $2) AS score
		 FROM archive_chunks
		 WHERE corpus = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		vector.CorpusName(corpus), pgv.NewVector(embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	results := make([]vector.SearchResult, 0, topK)
	for rows.Next() {
		var r vector.SearchResult
		var score float64
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Title, &r.SourceURI, &r.Page, &r.Text, &score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		r.Score = float32(score)
		results = append(results, r)
	}
	return results, rows.Err()
}
