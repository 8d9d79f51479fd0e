package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	Neo4j       Neo4jConfig
	Vector      VectorConfig
	LLM         LLMConfig
	Knowledge   KnowledgeConfig
	Translation TranslationConfig
	Ingestion   IngestionConfig
	Admin       AdminConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	ReadTimeout      int
	WriteTimeout     int
	BodyLimit        int
	MaxMessageLength int
	IsDevelopment    bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

// VectorConfig selects the corpus backend: "milvus" or "pgvector".
type VectorConfig struct {
	Provider    string
	Endpoint    string
	APIKey      string
	PostgresDSN string
	VectorDim   int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	FallbackModel  string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
}

type KnowledgeConfig struct {
	CorpusID     string
	Organization string
	TopK         int
	MinScore     float64
}

type TranslationConfig struct {
	Model string
}

type IngestionConfig struct {
	Enabled       bool
	InputDir      string
	OutputDir     string
	ChunkSize     int
	ChunkOverlap  int
	PollInterval  int
	MaxPolls      int
	MaxConcurrent int
	JobTTLHours   int
}

type AdminConfig struct {
	APIKey string
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/archive-agent")

	viper.SetEnvPrefix("ARCHIVE_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Vector.Provider {
	case "milvus", "pgvector":
	default:
		return fmt.Errorf("unknown vector provider %q", c.Vector.Provider)
	}
	if c.Knowledge.CorpusID == "" {
		return fmt.Errorf("knowledge.corpusId must not be empty")
	}
	if c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("ingestion.chunkOverlap (%d) must be smaller than ingestion.chunkSize (%d)",
			c.Ingestion.ChunkOverlap, c.Ingestion.ChunkSize)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 60)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 52428800)
	viper.SetDefault("server.maxMessageLength", 5000)
	viper.SetDefault("server.isDevelopment", false)

	viper.SetDefault("sqlite.path", "./data/archive.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("neo4j.enabled", false)
	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("vector.provider", "milvus")
	viper.SetDefault("vector.endpoint", "localhost:19530")
	viper.SetDefault("vector.postgresDSN", "postgres://localhost:5432/archive?sslmode=disable")
	viper.SetDefault("vector.vectorDim", 1536)

	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.fallbackModel", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")

	viper.SetDefault("knowledge.corpusId", "archive_documents")
	viper.SetDefault("knowledge.organization", "YMCA")
	viper.SetDefault("knowledge.topK", 5)
	viper.SetDefault("knowledge.minScore", 0.2)

	viper.SetDefault("translation.model", "gpt-4o-mini")

	viper.SetDefault("ingestion.enabled", true)
	viper.SetDefault("ingestion.inputDir", "./data/uploads")
	viper.SetDefault("ingestion.outputDir", "./data/extracted")
	viper.SetDefault("ingestion.chunkSize", 1000)
	viper.SetDefault("ingestion.chunkOverlap", 100)
	viper.SetDefault("ingestion.pollInterval", 2)
	viper.SetDefault("ingestion.maxPolls", 300)
	viper.SetDefault("ingestion.maxConcurrent", 2)
	viper.SetDefault("ingestion.jobTTLHours", 168)

	viper.SetDefault("rateLimit.maxRequestsPerMinute", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
