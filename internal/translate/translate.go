// Package translate wraps language detection and translation so that a
// backend failure never stops a chat request: detection degrades to the
// pivot language and translation degrades to the untranslated text.
package translate

import (
	"context"

	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/lang"
	"github.com/archive-agent/backend/internal/metrics"
	"github.com/archive-agent/backend/pkg/logger"
	"github.com/archive-agent/backend/pkg/outcome"
)

type Backend interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
	TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

type Service struct {
	backend Backend
}

func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

func (s *Service) Detect(ctx context.Context, text string) outcome.Result[string] {
	code, err := s.backend.DetectLanguage(ctx, text)
	if err == nil && code == "" {
		err = errEmptyCode
	}
	if err != nil {
		metrics.StageFailures.WithLabelValues("detect").Inc()
		logger.Warn("Language detection failed, defaulting to pivot language",
			zap.Error(err),
			zap.String("default", lang.Pivot),
		)
		return outcome.Degraded(lang.Pivot, err)
	}
	return outcome.Ok(code)
}

func (s *Service) Translate(ctx context.Context, text, sourceLang, targetLang string) outcome.Result[string] {
	if text == "" || sourceLang == targetLang {
		return outcome.Ok(text)
	}

	translated, err := s.backend.TranslateText(ctx, text, sourceLang, targetLang)
	result := outcome.From(translated, err, text)
	if result.IsDegraded() {
		metrics.StageFailures.WithLabelValues("translate").Inc()
		logger.Warn("Translation failed, returning original text",
			zap.Error(err),
			zap.String("source", sourceLang),
			zap.String("target", targetLang),
		)
	}
	return result
}
