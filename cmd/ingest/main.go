package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/cache/redis"
	"github.com/archive-agent/backend/internal/ingestion"
	"github.com/archive-agent/backend/internal/kg/builder"
	"github.com/archive-agent/backend/internal/kg/neo4j"
	"github.com/archive-agent/backend/internal/llm"
	"github.com/archive-agent/backend/internal/storage/sqlite"
	"github.com/archive-agent/backend/internal/vector"
	"github.com/archive-agent/backend/internal/vector/pgvector"
	"github.com/archive-agent/backend/internal/vector/zilliz"
	"github.com/archive-agent/backend/pkg/config"
	appLogger "github.com/archive-agent/backend/pkg/logger"
)

func main() {
	dir := flag.String("dir", "", "directory of archive documents to ingest")
	flag.Parse()

	if *dir == "" {
		fmt.Println("usage: ingest -dir <path>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var vectorStore vector.Store
	if cfg.Vector.Provider == "pgvector" {
		vectorStore, err = pgvector.New(ctx, cfg.Vector.PostgresDSN, cfg.Vector.VectorDim)
	} else {
		vectorStore, err = zilliz.NewClient(ctx, cfg.Vector.Endpoint, cfg.Vector.APIKey, cfg.Vector.VectorDim)
	}
	if err != nil {
		appLogger.Fatal("Failed to create vector store", zap.Error(err))
	}
	defer vectorStore.Close()

	var jobStore ingestion.JobStore = ingestion.NewMemoryJobStore()
	if redisClient, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB); err == nil {
		defer redisClient.Close()
		jobStore = redisClient
	} else {
		appLogger.Warn("Redis unavailable, keeping jobs in memory", zap.Error(err))
	}

	var pageIndexer ingestion.PageIndexer
	if cfg.Neo4j.Enabled {
		neo4jClient, err := neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Warn("Neo4j unavailable, skipping entity graph", zap.Error(err))
		} else {
			defer neo4jClient.Close(context.Background())
			if err := neo4jClient.EnsureSchema(ctx); err != nil {
				appLogger.Warn("Failed to apply graph schema", zap.Error(err))
			}
			pageIndexer = builder.NewBuilder(neo4jClient)
		}
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	processor := ingestion.NewProcessor(sqliteClient, vectorStore, llmClient, pageIndexer,
		cfg.Knowledge.CorpusID, cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	manager := ingestion.NewManager(ingestion.ManagerConfig{
		InputDir:      cfg.Ingestion.InputDir,
		OutputDir:     cfg.Ingestion.OutputDir,
		PollInterval:  time.Second,
		MaxPolls:      cfg.Ingestion.MaxPolls,
		MaxConcurrent: cfg.Ingestion.MaxConcurrent,
		JobTTL:        time.Duration(cfg.Ingestion.JobTTLHours) * time.Hour,
	}, jobStore, processor)
	defer manager.Shutdown()

	var files []string
	err = filepath.WalkDir(*dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !ingestion.IsSupported(path) {
			appLogger.Info("Skipping unsupported file", zap.String("path", path))
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		appLogger.Fatal("Failed to walk directory", zap.Error(err), zap.String("dir", *dir))
	}

	var failed int
	for _, path := range files {
		job, err := ingestFile(ctx, manager, path)
		if err != nil || job.Status != ingestion.StatusSucceeded {
			failed++
			appLogger.Error("Failed to ingest file", zap.Error(err), zap.String("path", path))
			continue
		}
		appLogger.Info("File ingested",
			zap.String("path", path),
			zap.String("doc_id", job.DocumentID),
			zap.Int("chunks", job.Chunks),
		)
	}

	appLogger.Info("Ingestion finished", zap.Int("files", len(files)), zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

func ingestFile(ctx context.Context, manager *ingestion.Manager, path string) (*ingestion.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	job, err := manager.Submit(ctx, path, f)
	if err != nil {
		return nil, err
	}
	return manager.Process(ctx, job.JobID)
}
