package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5000, cfg.Server.MaxMessageLength)
	assert.Equal(t, "milvus", cfg.Vector.Provider)
	assert.Equal(t, "archive_documents", cfg.Knowledge.CorpusID)
	assert.Equal(t, 5, cfg.Knowledge.TopK)
	assert.Less(t, cfg.Ingestion.ChunkOverlap, cfg.Ingestion.ChunkSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ARCHIVE_AGENT_VECTOR_PROVIDER", "pgvector")
	t.Setenv("ARCHIVE_AGENT_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pgvector", cfg.Vector.Provider)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.Vector.Provider = "milvus"
		c.Knowledge.CorpusID = "archive"
		c.Ingestion.ChunkSize = 1000
		c.Ingestion.ChunkOverlap = 100
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown provider", mutate: func(c *Config) { c.Vector.Provider = "faiss" }, wantErr: "unknown vector provider"},
		{name: "empty corpus", mutate: func(c *Config) { c.Knowledge.CorpusID = "" }, wantErr: "corpusId"},
		{name: "overlap too large", mutate: func(c *Config) { c.Ingestion.ChunkOverlap = 1000 }, wantErr: "chunkOverlap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
