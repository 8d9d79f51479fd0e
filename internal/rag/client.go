package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/knowledge"
	"github.com/archive-agent/backend/internal/story"
	"github.com/archive-agent/backend/pkg/logger"
)

// Retriever is the grounded-generation collaborator.
type Retriever interface {
	RetrieveAndGenerate(ctx context.Context, req knowledge.GroundedRequest) (*knowledge.GroundedResult, error)
}

type Client struct {
	retriever Retriever
	corpusID  string
	modelID   string
	template  string
}

func NewClient(retriever Retriever, corpusID, modelID, organization string) *Client {
	return &Client{
		retriever: retriever,
		corpusID:  corpusID,
		modelID:   modelID,
		template:  groundedPrompt(organization),
	}
}

// Query runs the grounded call. A returned error means the backend failed;
// unparseable model output is not an error and yields a narrative answer.
func (c *Client) Query(ctx context.Context, text string) (story.Answer, error) {
	result, err := c.retriever.RetrieveAndGenerate(ctx, knowledge.GroundedRequest{
		QueryText:      text,
		CorpusID:       c.corpusID,
		ModelID:        c.modelID,
		PromptTemplate: c.template,
	})
	if err != nil {
		return story.Answer{}, fmt.Errorf("grounded query: %w", err)
	}

	answer := story.FromGrounded(result.OutputText)
	answer.Citations = ExtractCitations(result.Citations)

	logger.Debug("Grounded answer parsed",
		zap.String("response_type", string(answer.Type)),
		zap.Int("citations", len(answer.Citations)),
	)

	return answer, nil
}
