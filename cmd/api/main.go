package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/api/handlers"
	"github.com/archive-agent/backend/internal/cache/redis"
	"github.com/archive-agent/backend/internal/chat"
	"github.com/archive-agent/backend/internal/ingestion"
	"github.com/archive-agent/backend/internal/kg/builder"
	"github.com/archive-agent/backend/internal/kg/neo4j"
	"github.com/archive-agent/backend/internal/knowledge"
	"github.com/archive-agent/backend/internal/llm"
	"github.com/archive-agent/backend/internal/metrics"
	"github.com/archive-agent/backend/internal/middleware/ratelimit"
	"github.com/archive-agent/backend/internal/middleware/security"
	"github.com/archive-agent/backend/internal/middleware/validation"
	"github.com/archive-agent/backend/internal/rag"
	"github.com/archive-agent/backend/internal/storage/sqlite"
	"github.com/archive-agent/backend/internal/translate"
	"github.com/archive-agent/backend/internal/vector"
	"github.com/archive-agent/backend/internal/vector/pgvector"
	"github.com/archive-agent/backend/internal/vector/zilliz"
	"github.com/archive-agent/backend/pkg/config"
	appLogger "github.com/archive-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Archive Agent API Server")

	metrics.Init()
	ctx := context.Background()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	vectorStore, err := openVectorStore(ctx, cfg.Vector)
	if err != nil {
		appLogger.Fatal("Failed to create vector store", zap.Error(err), zap.String("provider", cfg.Vector.Provider))
	}
	defer vectorStore.Close()

	if err := vectorStore.EnsureCorpus(ctx, cfg.Knowledge.CorpusID); err != nil {
		appLogger.Warn("Failed to prepare corpus", zap.Error(err), zap.String("corpus", cfg.Knowledge.CorpusID))
	}

	var (
		jobStore       ingestion.JobStore = ingestion.NewMemoryJobStore()
		embeddingCache knowledge.EmbeddingCache
	)
	redisClient, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, keeping jobs in memory", zap.Error(err))
	} else {
		defer redisClient.Close()
		jobStore = redisClient
		embeddingCache = redisClient
	}

	var (
		entityLookup knowledge.EntityLookup
		pageIndexer  ingestion.PageIndexer
		graphClient  *neo4j.Client
	)
	if cfg.Neo4j.Enabled {
		neo4jClient, err := neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Warn("Neo4j unavailable, entity graph disabled", zap.Error(err))
		} else {
			defer neo4jClient.Close(context.Background())
			if err := neo4jClient.EnsureSchema(ctx); err != nil {
				appLogger.Warn("Failed to apply graph schema", zap.Error(err))
			}
			graphClient = neo4jClient
			kgBuilder := builder.NewBuilder(neo4jClient)
			entityLookup = kgBuilder
			pageIndexer = kgBuilder
		}
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	knowledgeService := knowledge.NewService(llmClient, vectorStore, llmClient, entityLookup, embeddingCache, knowledge.Options{
		TopK:     cfg.Knowledge.TopK,
		MinScore: cfg.Knowledge.MinScore,
	})

	translator := translate.NewService(translate.NewLLMBackend(llmClient, cfg.Translation.Model))

	orchestrator := chat.NewOrchestrator(chat.Deps{
		Detector:   translator,
		Translator: translator,
		Retriever:  rag.NewClient(knowledgeService, cfg.Knowledge.CorpusID, cfg.LLM.Model, cfg.Knowledge.Organization),
		Fallback:   rag.NewFallbackGenerator(llmClient, cfg.LLM.FallbackModel, cfg.Knowledge.Organization),
		Recorder:   chat.NewRecorder(sqliteClient),
	})

	processor := ingestion.NewProcessor(sqliteClient, vectorStore, llmClient, pageIndexer,
		cfg.Knowledge.CorpusID, cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	manager := ingestion.NewManager(ingestion.ManagerConfig{
		InputDir:      cfg.Ingestion.InputDir,
		OutputDir:     cfg.Ingestion.OutputDir,
		PollInterval:  time.Duration(cfg.Ingestion.PollInterval) * time.Second,
		MaxPolls:      cfg.Ingestion.MaxPolls,
		MaxConcurrent: cfg.Ingestion.MaxConcurrent,
		JobTTL:        time.Duration(cfg.Ingestion.JobTTLHours) * time.Hour,
	}, jobStore, processor)

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(security.CORSMiddleware())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Server.IsDevelopment}))
	app.Use(validation.Middleware(validation.Config{
		MaxMessageLength: cfg.Server.MaxMessageLength,
		Logger:           appLogger.GetLogger(),
	}))

	chatHandler := handlers.NewChatHandler(orchestrator)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)
	adminHandler := handlers.NewAdminHandler(sqliteClient)
	adminKey := security.APIKeyMiddleware(cfg.Admin.APIKey)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/chat", rateLimiter.Middleware(), chatHandler.HandleChat)
	api.Get("/languages", handlers.ListLanguages)

	api.Use("/ws", handlers.Upgrade)
	api.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	if cfg.Ingestion.Enabled {
		documentHandler := handlers.NewDocumentHandler(manager, 0)
		api.Post("/documents", adminKey, documentHandler.UploadDocument)
		api.Get("/documents/jobs", adminKey, documentHandler.ListJobs)
		api.Get("/documents/jobs/:jobId", adminKey, documentHandler.GetJob)
	}

	admin := api.Group("/admin", adminKey)
	admin.Get("/analytics", adminHandler.GetAnalytics)
	admin.Get("/conversations/:conversationId", adminHandler.GetConversation)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		status := fiber.Map{
			"status":       "ready",
			"vector":       cfg.Vector.Provider,
			"redis":        redisClient != nil,
			"entity_graph": graphClient != nil,
		}
		if graphClient != nil {
			if n, err := graphClient.EntityCount(c.UserContext()); err == nil {
				status["entities"] = n
			} else {
				appLogger.Warn("Failed to count graph entities", zap.Error(err))
			}
		}
		return c.JSON(status)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	manager.Shutdown()
	appLogger.Info("Server stopped")
}

func openVectorStore(ctx context.Context, cfg config.VectorConfig) (vector.Store, error) {
	switch cfg.Provider {
	case "pgvector":
		return pgvector.New(ctx, cfg.PostgresDSN, cfg.VectorDim)
	default:
		return zilliz.NewClient(ctx, cfg.Endpoint, cfg.APIKey, cfg.VectorDim)
	}
}
