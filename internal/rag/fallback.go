package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/llm"
	"github.com/archive-agent/backend/internal/story"
	"github.com/archive-agent/backend/pkg/logger"
	"github.com/archive-agent/backend/pkg/outcome"
)

const (
	fallbackMaxTokens   = 2000
	fallbackTemperature = 0.7
)

type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)
}

// FallbackGenerator answers without the archive when grounded retrieval is
// unavailable.
type FallbackGenerator struct {
	generator    Generator
	modelID      string
	organization string
}

func NewFallbackGenerator(generator Generator, modelID, organization string) *FallbackGenerator {
	return &FallbackGenerator{
		generator:    generator,
		modelID:      modelID,
		organization: organization,
	}
}

// Fallback never returns an unusable answer: if the model call fails the
// degraded value is the apology answer.
func (f *FallbackGenerator) Fallback(ctx context.Context, text string) outcome.Result[story.Answer] {
	resp, err := f.generator.Generate(ctx, llm.GenerateRequest{
		ModelID: f.modelID,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fallbackPrompt(f.organization, text)},
		},
		MaxTokens:   fallbackMaxTokens,
		Temperature: fallbackTemperature,
	})
	if err != nil {
		logger.Error("Fallback generation failed", zap.Error(err))
		apology := story.Apology()
		apology.Fallback = true
		return outcome.Degraded(apology, err)
	}

	return outcome.Ok(story.FromFallback(resp.OutputText))
}
