package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/metrics"
	"github.com/archive-agent/backend/pkg/circuitbreaker"
	"github.com/archive-agent/backend/pkg/logger"
	"github.com/archive-agent/backend/pkg/retry"
)

var ErrEmptyCompletion = errors.New("model returned no choices")

const (
	RoleSystem = openai.ChatMessageRoleSystem
	RoleUser   = openai.ChatMessageRoleUser
)

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	// chatCB and embedCB trip independently so an embedding outage leaves
	// completions (fallback, translation) available.
	chatCB         *circuitbreaker.CircuitBreaker
	embedCB        *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type Message struct {
	Role    string
	Content string
}

// GenerateRequest is the general generation contract: a model, a message
// list and sampling limits. Zero values fall back to the client defaults.
type GenerateRequest struct {
	ModelID     string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

type GenerateResponse struct {
	OutputText string
	Usage      Usage
}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	breakerConfig := circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	}

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(oaCfg),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        cfg.Timeout,
		chatCB:         circuitbreaker.NewCircuitBreaker("llm-chat", breakerConfig),
		embedCB:        circuitbreaker.NewCircuitBreaker("llm-embed", breakerConfig),
		retryConfig:    retryConfig,
	}
}

// Generate issues one chat completion. It is guarded by the circuit breaker
// but never retried: a failure here is a stage failure for the caller.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.ModelID
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	return circuitbreaker.ExecuteWithResult(ctx, c.chatCB, func() (*GenerateResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, ErrEmptyCompletion
		}

		metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))

		logger.Debug("LLM completion generated",
			zap.String("model", model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		return &GenerateResponse{
			OutputText: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}, nil
	})
}

// Complete is a system+user prompt shorthand over Generate.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: req.UserPrompt})

	resp, err := c.Generate(ctx, GenerateRequest{
		ModelID:     req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.OutputText, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embeddings := make([][]float32, 0, len(texts))

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batch := texts[i:end]

		err := c.embedCB.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return retry.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)))
				}

				for _, data := range resp.Data {
					embeddings = append(embeddings, data.Embedding)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}
