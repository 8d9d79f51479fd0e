// Package vector defines the corpus store used for grounded retrieval. A
// corpus is a named set of embedded document chunks.
package vector

import (
	"context"
	"strings"
	"time"
)

type Chunk struct {
	ID         string
	DocumentID string
	Title      string
	SourceURI  string
	Page       int
	Text       string
	Embedding  []float32
	Timestamp  time.Time
}

type SearchResult struct {
	ChunkID    string
	DocumentID string
	Title      string
	SourceURI  string
	Page       int
	Text       string
	Score      float32
}

type Store interface {
	EnsureCorpus(ctx context.Context, corpus string) error
	Upsert(ctx context.Context, corpus string, chunks []Chunk) error
	Search(ctx context.Context, corpus string, embedding []float32, topK int) ([]SearchResult, error)
	Close() error
}

// CorpusName maps a corpus ID onto the identifier alphabet both backends
// accept: letters, digits and underscores, not starting with a digit.
func CorpusName(corpus string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(corpus) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "corpus_" + name
	}
	return name
}
