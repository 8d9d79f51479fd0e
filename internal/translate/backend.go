package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/archive-agent/backend/internal/lang"
	"github.com/archive-agent/backend/internal/llm"
)

// Completer is the slice of the LLM client the translation backend needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// LLMBackend implements detection and translation with a chat model.
type LLMBackend struct {
	llm   Completer
	model string
}

func NewLLMBackend(c Completer, model string) *LLMBackend {
	return &LLMBackend{llm: c, model: model}
}

const detectPrompt = `Identify the language of the user's text. Reply with only the ISO 639-1 code (for example "en", "es", "zh"). Do not add punctuation or explanation.`

func (b *LLMBackend) DetectLanguage(ctx context.Context, text string) (string, error) {
	out, err := b.llm.Complete(ctx, llm.CompletionRequest{
		Model:        b.model,
		SystemPrompt: detectPrompt,
		UserPrompt:   text,
		Temperature:  0.01,
		MaxTokens:    5,
	})
	if err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}

	code, ok := lang.Normalize(strings.Trim(strings.TrimSpace(out), `".`))
	if !ok {
		return "", fmt.Errorf("detect language: unrecognised code %q", out)
	}
	return code, nil
}

func (b *LLMBackend) TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	system := fmt.Sprintf(
		"Translate the user's text from %s to %s. Preserve paragraph breaks, names and dates. Reply with the translation only.",
		describe(sourceLang), describe(targetLang),
	)

	out, err := b.llm.Complete(ctx, llm.CompletionRequest{
		Model:        b.model,
		SystemPrompt: system,
		UserPrompt:   text,
		Temperature:  0.01,
	})
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", sourceLang, targetLang, err)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("translate %s->%s: empty translation", sourceLang, targetLang)
	}
	return out, nil
}

func describe(code string) string {
	if name := lang.Name(code); name != "Unknown" {
		return name
	}
	return fmt.Sprintf("the language with code %q", code)
}
