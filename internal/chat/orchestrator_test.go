package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/internal/story"
	"github.com/archive-agent/backend/pkg/outcome"
)

type fakeDetector struct {
	code  string
	err   error
	calls int
}

func (f *fakeDetector) Detect(ctx context.Context, text string) outcome.Result[string] {
	f.calls++
	if f.err != nil {
		return outcome.Degraded("en", f.err)
	}
	return outcome.Ok(f.code)
}

type translateCall struct {
	text, src, tgt string
}

type fakeTranslator struct {
	calls []translateCall
	err   error
}

func (f *fakeTranslator) Translate(ctx context.Context, text, src, tgt string) outcome.Result[string] {
	f.calls = append(f.calls, translateCall{text, src, tgt})
	if f.err != nil {
		return outcome.Degraded(text, f.err)
	}
	return outcome.Ok(fmt.Sprintf("[%s->%s] %s", src, tgt, text))
}

type fakeRetriever struct {
	answer story.Answer
	err    error
	query  string
	panic  bool
}

func (f *fakeRetriever) Query(ctx context.Context, text string) (story.Answer, error) {
	if f.panic {
		panic("nil map write")
	}
	f.query = text
	return f.answer, f.err
}

type fakeFallback struct {
	result outcome.Result[story.Answer]
	calls  int
}

func (f *fakeFallback) Fallback(ctx context.Context, text string) outcome.Result[story.Answer] {
	f.calls++
	return f.result
}

type fakeStore struct {
	mu           sync.Mutex
	turns        []*models.ChatTurn
	records      []*models.AnalyticsRecord
	convErr      error
	analyticsErr error
	convPanic    bool
}

func (f *fakeStore) PutConversation(ctx context.Context, turn *models.ChatTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convPanic {
		panic("conversation index not initialized")
	}
	if f.convErr != nil {
		return f.convErr
	}
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeStore) PutAnalytics(ctx context.Context, record *models.AnalyticsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analyticsErr != nil {
		return f.analyticsErr
	}
	f.records = append(f.records, record)
	return nil
}

const groundedJSON = `{"story":{"title":"Flu","narrative":"Branches nursed the sick.","timeline":"1918"},"suggestedFollowUps":["a","b"]}`

type OrchestratorSuite struct {
	suite.Suite
	detector   *fakeDetector
	translator *fakeTranslator
	retriever  *fakeRetriever
	fallback   *fakeFallback
	store      *fakeStore
	orch       *Orchestrator
	clock      time.Time
}

func (s *OrchestratorSuite) SetupTest() {
	s.detector = &fakeDetector{code: "es"}
	s.translator = &fakeTranslator{}
	grounded := story.FromGrounded(groundedJSON)
	grounded.Citations = []models.Citation{{Title: "Minutes", Source: "Archives", Page: "2", Confidence: 0.9}}
	s.retriever = &fakeRetriever{answer: grounded}
	s.fallback = &fakeFallback{result: outcome.Ok(story.FromFallback("General answer."))}
	s.store = &fakeStore{}
	s.clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	ids := 0
	s.orch = NewOrchestrator(Deps{
		Detector:   s.detector,
		Translator: s.translator,
		Retriever:  s.retriever,
		Fallback:   s.fallback,
		Recorder:   NewRecorder(s.store),
		Now: func() time.Time {
			s.clock = s.clock.Add(5 * time.Millisecond)
			return s.clock
		},
		NewID: func(prefix string, now time.Time) string {
			ids++
			return fmt.Sprintf("%s_%d", prefix, ids)
		},
	})
}

func (s *OrchestratorSuite) handle(req Request) *Response {
	resp, err := s.orch.Handle(context.Background(), req)
	s.Require().NoError(err)
	s.Require().NotNil(resp)
	return resp
}

func (s *OrchestratorSuite) TestHappyPathEnglish() {
	resp := s.handle(Request{Message: "Tell me about YMCA's response to the 1918 flu pandemic", Language: "en"})

	s.Equal(models.ResponseStructured, resp.ResponseType)
	s.False(resp.TranslationUsed)
	s.Equal("en", resp.Language)
	s.Zero(s.detector.calls)
	s.Empty(s.translator.calls)
	s.Equal("Branches nursed the sick.", resp.Response.Story.Narrative.String())
	s.Equal(1, resp.Metadata.CitationsFound)
	s.True(resp.Metadata.ResponseStructured)
	s.True(resp.Metadata.KnowledgeBaseUsed)
	s.False(resp.Metadata.FallbackUsed)
	s.Equal(int64(5), resp.ProcessingTime)
	s.Equal("2024-03-01T12:00:00.005Z", resp.Timestamp)
}

func (s *OrchestratorSuite) TestDefaultsIdentifiers() {
	resp := s.handle(Request{Message: "hello", Language: "en"})

	s.Equal("session_1", resp.SessionID)
	s.Equal(resp.SessionID, resp.ConversationID)
	s.Require().Len(s.store.turns, 1)
	s.Equal("anonymous", s.store.turns[0].UserID)
	s.Equal("query_2", s.store.records[0].QueryID)
}

func (s *OrchestratorSuite) TestExplicitLanguageSkipsDetection() {
	resp := s.handle(Request{Message: "Bonjour", Language: "fr"})

	s.Zero(s.detector.calls)
	s.Equal("fr", resp.Language)
	s.Equal("fr", s.store.turns[0].UserLanguage)
}

func (s *OrchestratorSuite) TestAutoWithDetectionFailureRecordsEnglish() {
	s.detector.err = errors.New("detector down")

	resp := s.handle(Request{Message: "What happened in 1918?", Language: "auto"})

	s.Equal("en", resp.Language)
	s.Equal("en", s.store.turns[0].UserLanguage)
	s.False(resp.TranslationUsed)
	s.Empty(s.translator.calls)
}

func (s *OrchestratorSuite) TestSpanishRoundTrip() {
	resp := s.handle(Request{Message: "¿Qué hizo la YMCA en 1918?"})

	s.Equal(1, s.detector.calls)
	s.Equal("es", resp.Language)
	s.True(resp.TranslationUsed)

	s.Require().Len(s.translator.calls, 2)
	s.Equal(translateCall{"¿Qué hizo la YMCA en 1918?", "es", "en"}, s.translator.calls[0])
	s.Equal("[es->en] ¿Qué hizo la YMCA en 1918?", s.retriever.query)
	s.Equal(translateCall{"Branches nursed the sick.", "en", "es"}, s.translator.calls[1])

	s.Equal("[en->es] Branches nursed the sick.", resp.Response.Story.Narrative.String())
	s.Equal("1918", resp.Response.Story.Timeline.String())
	s.Equal("[es->en] ¿Qué hizo la YMCA en 1918?", s.store.turns[0].TranslatedQuery)
}

func (s *OrchestratorSuite) TestUnsupportedLanguageSkipsBackTranslation() {
	resp := s.handle(Request{Message: "Habari", Language: "sw"})

	s.True(resp.TranslationUsed)
	s.Require().Len(s.translator.calls, 1)
	s.Equal("Branches nursed the sick.", resp.Response.Story.Narrative.String())
}

func (s *OrchestratorSuite) TestTranslationFailurePassesThrough() {
	s.translator.err = errors.New("translate down")

	resp := s.handle(Request{Message: "Hola", Language: "es"})

	s.Equal("Hola", s.retriever.query)
	s.Equal("Branches nursed the sick.", resp.Response.Story.Narrative.String())
	s.Equal(models.ResponseStructured, resp.ResponseType)
}

func (s *OrchestratorSuite) TestRetrievalDownUsesFallback() {
	s.retriever.err = errors.New("knowledge base unavailable")

	resp := s.handle(Request{Message: "Tell me about camps", Language: "en"})

	s.Equal(1, s.fallback.calls)
	s.True(resp.Metadata.FallbackUsed)
	s.Equal(models.ResponseNarrative, resp.ResponseType)
	s.Equal("General answer.", resp.RawResponse)
	s.Empty(resp.Sources)
	s.True(s.store.records[0].FallbackUsed)
}

func (s *OrchestratorSuite) TestTotalOutageReturnsApology() {
	s.retriever.err = errors.New("knowledge base unavailable")
	apology := story.Apology()
	apology.Fallback = true
	s.fallback.result = outcome.Degraded(apology, errors.New("model unavailable"))

	resp := s.handle(Request{Message: "¿Qué pasó?", Language: "es"})

	s.Equal(models.ResponseError, resp.ResponseType)
	s.True(resp.Metadata.FallbackUsed)
	s.Equal(story.Apology().Content.Story.Narrative, resp.Response.Story.Narrative)
	s.Require().Len(s.translator.calls, 1, "apology is not back-translated")
	s.Require().Len(s.store.records, 1)
	s.True(s.store.records[0].Success)
	s.Equal(models.ResponseError, s.store.records[0].ResponseType)
}

func (s *OrchestratorSuite) TestMalformedModelOutput() {
	raw := "Plain prose about the 1851 reading room."
	s.retriever.answer = story.FromGrounded(raw)

	resp := s.handle(Request{Message: "reading room", Language: "en"})

	s.Equal(models.ResponseNarrative, resp.ResponseType)
	s.Equal(raw, resp.RawResponse)
	s.Equal(raw, resp.Response.Story.Narrative.String())
	s.False(resp.Metadata.FallbackUsed)
}

func (s *OrchestratorSuite) TestConversationWriteFailureDoesNotChangeResponse() {
	baseline := s.handle(Request{Message: "hello", Language: "en", SessionID: "s1"})

	s.SetupTest()
	s.store.convErr = errors.New("disk full")

	resp := s.handle(Request{Message: "hello", Language: "en", SessionID: "s1"})

	s.Equal(baseline, resp)
	s.Empty(s.store.turns)
	s.Len(s.store.records, 1, "analytics still written")
}

func (s *OrchestratorSuite) TestConversationWritePanicDoesNotChangeResponse() {
	baseline := s.handle(Request{Message: "hello", Language: "en", SessionID: "s1"})

	s.SetupTest()
	s.store.convPanic = true

	resp := s.handle(Request{Message: "hello", Language: "en", SessionID: "s1"})

	s.Equal(baseline, resp)
	s.Empty(s.store.turns)
	s.Len(s.store.records, 1, "analytics still written")
}

func (s *OrchestratorSuite) TestAnalyticsRecordFields() {
	s.handle(Request{Message: "Hola", Language: "es", UserID: "u-7", ConversationID: "c-1", SessionID: "s-1"})

	s.Require().Len(s.store.records, 1)
	rec := s.store.records[0]
	s.Equal("u-7", rec.UserID)
	s.Equal("c-1", rec.ConversationID)
	s.Equal("s-1", rec.SessionID)
	s.Equal("es", rec.Language)
	s.Equal(4, rec.QueryLength)
	s.Positive(rec.ResponseLength)
	s.True(rec.TranslationUsed)
	s.True(rec.KnowledgeBaseUsed)
	s.Equal(1, rec.CitationsFound)
	s.Empty(rec.Error)

	turn := s.store.turns[0]
	s.Equal("c-1", turn.ConversationID)
	s.Equal(1, turn.CitationsCount)
	s.Equal(groundedJSON, turn.OriginalResponse)
}

func (s *OrchestratorSuite) TestMissingMessage() {
	_, err := s.orch.Handle(context.Background(), Request{Message: "   "})

	s.ErrorIs(err, ErrMessageRequired)
	s.Empty(s.store.records)
}

func (s *OrchestratorSuite) TestPanicBecomesError() {
	s.retriever.panic = true

	resp, err := s.orch.Handle(context.Background(), Request{Message: "boom", Language: "en"})

	s.Error(err)
	s.Nil(resp)
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func TestShapeInvariantAcrossPaths(t *testing.T) {
	answers := []story.Answer{
		story.FromGrounded(groundedJSON),
		story.FromGrounded("prose"),
		story.FromGrounded(""),
		{Type: "bogus"},
	}

	for i, a := range answers {
		o := NewOrchestrator(Deps{
			Detector:   &fakeDetector{code: "en"},
			Translator: &fakeTranslator{},
			Retriever:  &fakeRetriever{answer: a},
			Fallback:   &fakeFallback{},
		})

		resp, err := o.Handle(context.Background(), Request{Message: "q"})
		require.NoError(t, err, i)
		assert.True(t, resp.ResponseType.Valid(), i)
		assert.NotEmpty(t, resp.Response.Story.Narrative, i)
		assert.NotNil(t, resp.Sources, i)
	}
}

func TestRecordFailure(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store)
	rec.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	err := rec.RecordFailure(context.Background(), "query_1", errors.New("decoder exploded"))

	require.NoError(t, err)
	require.Len(t, store.records, 1)
	got := store.records[0]
	assert.Equal(t, "unknown", got.UserID)
	assert.False(t, got.Success)
	assert.Equal(t, "decoder exploded", got.Error)
}

func TestRecordAttemptsBothWrites(t *testing.T) {
	store := &fakeStore{convErr: errors.New("conv down"), analyticsErr: errors.New("analytics down")}

	err := NewRecorder(store).Record(context.Background(), &models.ChatTurn{}, &models.AnalyticsRecord{})

	assert.ErrorContains(t, err, "conv down")
	assert.ErrorContains(t, err, "analytics down")
}

func TestRecordConvertsStorePanic(t *testing.T) {
	store := &fakeStore{convPanic: true}

	err := NewRecorder(store).Record(context.Background(), &models.ChatTurn{ConversationID: "c-1"}, &models.AnalyticsRecord{})

	assert.ErrorContains(t, err, "store panic")
	assert.Len(t, store.records, 1)
}

func TestRecordIgnoresCallerCancellation(t *testing.T) {
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRecorder(store).Record(ctx, &models.ChatTurn{}, &models.AnalyticsRecord{})

	assert.NoError(t, err)
	assert.Len(t, store.turns, 1)
}
