// Package chat sequences one chat turn: detect the language, translate to
// English, answer from the archive (or fall back), translate the narrative
// back and record the turn.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/lang"
	"github.com/archive-agent/backend/internal/metrics"
	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/internal/story"
	"github.com/archive-agent/backend/pkg/logger"
	"github.com/archive-agent/backend/pkg/outcome"
	"github.com/archive-agent/backend/pkg/utils"
)

var ErrMessageRequired = errors.New("message is required")

const anonymousUser = "anonymous"

type LanguageDetector interface {
	Detect(ctx context.Context, text string) outcome.Result[string]
}

type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) outcome.Result[string]
}

type Retriever interface {
	Query(ctx context.Context, text string) (story.Answer, error)
}

type FallbackGenerator interface {
	Fallback(ctx context.Context, text string) outcome.Result[story.Answer]
}

type Deps struct {
	Detector   LanguageDetector
	Translator Translator
	Retriever  Retriever
	Fallback   FallbackGenerator
	Recorder   *Recorder
	// Now and NewID default to the wall clock and utils.PrefixedID.
	Now   func() time.Time
	NewID func(prefix string, now time.Time) string
}

type Orchestrator struct {
	detector   LanguageDetector
	translator Translator
	retriever  Retriever
	fallback   FallbackGenerator
	recorder   *Recorder
	now        func() time.Time
	newID      func(prefix string, now time.Time) string
}

func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		detector:   d.Detector,
		translator: d.Translator,
		retriever:  d.Retriever,
		fallback:   d.Fallback,
		recorder:   d.Recorder,
		now:        d.Now,
		newID:      d.NewID,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = utils.PrefixedID
	}
	return o
}

// NewQueryID returns an identifier for a request that failed before Handle
// could assign one.
func (o *Orchestrator) NewQueryID() string {
	return o.newID("query", o.now())
}

// Handle runs the pipeline. It returns ErrMessageRequired for a blank
// message; any other error means a failure escaped the guarded stages.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Chat pipeline panicked", zap.Any("panic", r))
			resp, err = nil, fmt.Errorf("chat pipeline panic: %v", r)
		}
	}()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrMessageRequired
	}

	received := o.now()
	req = o.withDefaults(req, received)
	queryID := o.newID("query", received)

	detected := req.Language
	if detected == lang.Auto {
		detected = o.detector.Detect(ctx, message).Value
	}

	query := message
	if detected != lang.Pivot {
		query = o.translator.Translate(ctx, message, detected, lang.Pivot).Value
	}

	start := o.now()
	answer, fallbackUsed := o.answer(ctx, query)
	processing := o.now().Sub(start)
	metrics.GenerationDuration.WithLabelValues(generationPath(fallbackUsed)).Observe(processing.Seconds())

	answer = story.Normalize(answer)

	if detected != lang.Pivot && lang.IsSupported(detected) && answer.Type != models.ResponseError {
		narrative := string(answer.Content.Story.Narrative)
		answer.Content.Story.Narrative = models.FlexString(
			o.translator.Translate(ctx, narrative, lang.Pivot, detected).Value,
		)
	}

	resp = &Response{
		Response:        answer.Content,
		ResponseType:    answer.Type,
		RawResponse:     answer.RawText,
		Sources:         answer.Citations,
		ConversationID:  req.ConversationID,
		SessionID:       req.SessionID,
		Language:        detected,
		ProcessingTime:  processing.Milliseconds(),
		TranslationUsed: detected != lang.Pivot,
		Timestamp:       received.UTC().Format(TimestampLayout),
		Metadata: Metadata{
			KnowledgeBaseUsed:  true,
			CitationsFound:     len(answer.Citations),
			ResponseStructured: answer.Type == models.ResponseStructured,
			FallbackUsed:       fallbackUsed,
		},
	}

	turn := &models.ChatTurn{
		ConversationID:   req.ConversationID,
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		Timestamp:        received.UTC(),
		UserMessage:      message,
		UserLanguage:     detected,
		TranslatedQuery:  query,
		AIResponse:       answer.Content,
		AIResponseType:   answer.Type,
		OriginalResponse: answer.RawText,
		ResponseLanguage: detected,
		ProcessingTimeMs: resp.ProcessingTime,
		CitationsCount:   len(answer.Citations),
		Citations:        answer.Citations,
	}

	record := &models.AnalyticsRecord{
		QueryID:           queryID,
		Timestamp:         received.UTC(),
		UserID:            req.UserID,
		SessionID:         req.SessionID,
		ConversationID:    req.ConversationID,
		Language:          detected,
		QueryLength:       utf8.RuneCountInString(message),
		ResponseLength:    contentLength(answer.Content),
		ProcessingTimeMs:  resp.ProcessingTime,
		TranslationUsed:   resp.TranslationUsed,
		KnowledgeBaseUsed: true,
		CitationsFound:    len(answer.Citations),
		ResponseType:      answer.Type,
		FallbackUsed:      fallbackUsed,
		Success:           true,
	}

	if o.recorder != nil {
		_ = o.recorder.Record(ctx, turn, record)
	}

	metrics.ChatTotal.WithLabelValues(string(answer.Type), detected).Inc()
	metrics.ChatDuration.WithLabelValues(string(answer.Type)).Observe(o.now().Sub(received).Seconds())
	metrics.CitationsPerAnswer.Observe(float64(len(answer.Citations)))

	logger.Info("Chat turn answered",
		zap.String("query_id", queryID),
		zap.String("conversation_id", req.ConversationID),
		zap.String("language", detected),
		zap.String("response_type", string(answer.Type)),
		zap.Bool("fallback_used", fallbackUsed),
		zap.Int64("processing_ms", resp.ProcessingTime),
	)

	return resp, nil
}

// RecordFailure writes the failure analytics row for a request Handle could
// not complete.
func (o *Orchestrator) RecordFailure(ctx context.Context, queryID string, cause error) {
	if o.recorder == nil {
		return
	}
	_ = o.recorder.RecordFailure(ctx, queryID, cause)
}

// answer tries the grounded path first and reports whether it had to fall
// back.
func (o *Orchestrator) answer(ctx context.Context, query string) (story.Answer, bool) {
	answer, err := o.retriever.Query(ctx, query)
	if err == nil {
		return answer, false
	}

	metrics.StageFailures.WithLabelValues("retrieve").Inc()
	metrics.FallbackUsed.Inc()
	logger.Warn("Grounded retrieval failed, using fallback generation", zap.Error(err))

	res := o.fallback.Fallback(ctx, query)
	if res.IsDegraded() {
		metrics.StageFailures.WithLabelValues("fallback").Inc()
	}
	return res.Value, true
}

func (o *Orchestrator) withDefaults(req Request, now time.Time) Request {
	req.Message = strings.TrimSpace(req.Message)
	req.Language = strings.TrimSpace(req.Language)
	if req.Language == "" {
		req.Language = lang.Auto
	}
	if req.SessionID == "" {
		req.SessionID = o.newID("session", now)
	}
	if req.UserID == "" {
		req.UserID = anonymousUser
	}
	if req.ConversationID == "" {
		req.ConversationID = req.SessionID
	}
	return req
}

func generationPath(fallbackUsed bool) string {
	if fallbackUsed {
		return "fallback"
	}
	return "grounded"
}

func contentLength(content models.StoryContent) int {
	data, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(data)
}
