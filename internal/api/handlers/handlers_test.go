package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archive-agent/backend/internal/chat"
	"github.com/archive-agent/backend/internal/ingestion"
	"github.com/archive-agent/backend/internal/storage/models"
)

type fakeChat struct {
	mu       sync.Mutex
	err      error
	got      chat.Request
	failures []string
}

func (f *fakeChat) Handle(_ context.Context, req chat.Request) (*chat.Response, error) {
	f.mu.Lock()
	f.got = req
	f.mu.Unlock()
	if strings.TrimSpace(req.Message) == "" {
		return nil, chat.ErrMessageRequired
	}
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Response{
		Response: models.StoryContent{
			Story: models.Story{Title: "Camp", Narrative: "The camp opened\nin 1885."},
		},
		ResponseType:   models.ResponseStructured,
		ConversationID: "conv-1",
		SessionID:      "session_1",
		Language:       "en",
		Sources:        []models.Citation{},
	}, nil
}

func (f *fakeChat) NewQueryID() string { return "query_failed" }

func (f *fakeChat) RecordFailure(_ context.Context, queryID string, _ error) {
	f.mu.Lock()
	f.failures = append(f.failures, queryID)
	f.mu.Unlock()
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func chatApp(svc ChatService) *fiber.App {
	h := NewChatHandler(svc)
	h.now = func() time.Time { return time.Date(2024, 2, 1, 8, 30, 0, 0, time.UTC) }
	app := fiber.New()
	app.Post("/api/v1/chat", h.HandleChat)
	app.Get("/api/v1/languages", ListLanguages)
	return app
}

func postChat(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestChatSuccess(t *testing.T) {
	svc := &fakeChat{}
	resp := postChat(t, chatApp(svc), `{"message":"When did camp open?","language":"auto","userId":"u1"}`)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "structured", body["responseType"])
	assert.Equal(t, "conv-1", body["conversationId"])
	assert.Equal(t, "u1", svc.got.UserID)
	assert.Equal(t, "auto", svc.got.Language)
}

func TestChatMalformedBody(t *testing.T) {
	resp := postChat(t, chatApp(&fakeChat{}), `{"message":`)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request body", decodeBody(t, resp)["error"])
}

func TestChatMessageRequired(t *testing.T) {
	for _, body := range []string{``, `{}`, `{"message":"   "}`} {
		resp := postChat(t, chatApp(&fakeChat{}), body)

		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "Message is required", decodeBody(t, resp)["error"], body)
	}
}

func TestChatEscapedFailure(t *testing.T) {
	svc := &fakeChat{err: errors.New("chat pipeline panic: boom")}
	resp := postChat(t, chatApp(svc), `{"message":"hello"}`)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "error", body["responseType"])
	assert.Equal(t, "Internal server error", body["error"])
	assert.Equal(t, "2024-02-01T08:30:00.000Z", body["timestamp"])
	assert.NotContains(t, body["error"], "boom")

	content := body["response"].(map[string]any)
	assert.NotEmpty(t, content["story"].(map[string]any)["narrative"])
	assert.Equal(t, []string{"query_failed"}, svc.failures)
}

func TestListLanguages(t *testing.T) {
	resp, err := chatApp(&fakeChat{}).Test(httptest.NewRequest("GET", "/api/v1/languages", nil))
	require.NoError(t, err)

	body := decodeBody(t, resp)
	assert.Equal(t, "en", body["default"])
	assert.Len(t, body["languages"], 12)
}

type fakeManager struct {
	submitted string
	processed chan string
	jobs      map[string]*ingestion.Job
}

func (f *fakeManager) Submit(_ context.Context, filename string, r io.Reader) (*ingestion.Job, error) {
	data, _ := io.ReadAll(r)
	f.submitted = filename + ":" + string(data)
	return &ingestion.Job{JobID: "job-1", ProcessingID: "doc-1-abc", Status: ingestion.StatusInProgress}, nil
}

func (f *fakeManager) Process(_ context.Context, jobID string) (*ingestion.Job, error) {
	f.processed <- jobID
	return &ingestion.Job{JobID: jobID, Status: ingestion.StatusSucceeded}, nil
}

func (f *fakeManager) CheckStatus(_ context.Context, jobID string) (*ingestion.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, ingestion.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeManager) ListJobs(context.Context) ([]*ingestion.Job, error) {
	out := make([]*ingestion.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func documentApp(m DocumentManager) *fiber.App {
	h := NewDocumentHandler(m, time.Minute)
	app := fiber.New()
	app.Post("/api/v1/documents", h.UploadDocument)
	app.Get("/api/v1/documents/jobs", h.ListJobs)
	app.Get("/api/v1/documents/jobs/:jobId", h.GetJob)
	return app
}

func upload(t *testing.T, app *fiber.App, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestUploadDocument(t *testing.T) {
	m := &fakeManager{processed: make(chan string, 1)}
	resp := upload(t, documentApp(m), "minutes.txt", "Board minutes")

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "job-1", body["jobId"])
	assert.Equal(t, "doc-1-abc", body["processingId"])
	assert.Equal(t, "minutes.txt:Board minutes", m.submitted)

	select {
	case id := <-m.processed:
		assert.Equal(t, "job-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("processing was not started")
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	resp := upload(t, documentApp(&fakeManager{}), "scan.png", "binary")

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "File type not supported for processing", decodeBody(t, resp)["error"])
}

func TestUploadRequiresFile(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/documents", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := documentApp(&fakeManager{}).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestJobEndpoints(t *testing.T) {
	m := &fakeManager{jobs: map[string]*ingestion.Job{
		"job-9": {JobID: "job-9", Status: ingestion.StatusSucceeded, Ingested: true, Chunks: 3},
	}}
	app := documentApp(m)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/documents/jobs/job-9", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "SUCCEEDED", body["status"])
	assert.Equal(t, true, body["ingested"])

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/documents/jobs/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/documents/jobs", nil))
	require.NoError(t, err)
	assert.Len(t, decodeBody(t, resp)["jobs"], 1)
}

type fakeSource struct {
	analytics     []models.AnalyticsRecord
	conversations []models.ChatTurn
	since         time.Time
	err           error
}

func (f *fakeSource) ListAnalyticsSince(_ context.Context, since time.Time) ([]models.AnalyticsRecord, error) {
	f.since = since
	return f.analytics, f.err
}

func (f *fakeSource) ListConversationsSince(context.Context, time.Time, int) ([]models.ChatTurn, error) {
	return f.conversations, nil
}

func (f *fakeSource) GetConversation(_ context.Context, id string) ([]models.ChatTurn, error) {
	var out []models.ChatTurn
	for _, c := range f.conversations {
		if c.ConversationID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func adminApp(src AnalyticsSource, now time.Time) *fiber.App {
	h := NewAdminHandler(src)
	h.now = func() time.Time { return now }
	app := fiber.New()
	app.Get("/api/v1/admin/analytics", h.GetAnalytics)
	app.Get("/api/v1/admin/conversations/:conversationId", h.GetConversation)
	return app
}

func TestAdminAnalytics(t *testing.T) {
	now := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{
		analytics: []models.AnalyticsRecord{
			{UserID: "u1", ConversationID: "c1", Language: "es", Success: true, Timestamp: now.Add(-time.Hour)},
		},
		conversations: []models.ChatTurn{
			{ConversationID: "c1", UserMessage: "basketball origins", Timestamp: now.Add(-time.Hour)},
		},
	}

	resp, err := adminApp(src, now).Test(httptest.NewRequest("GET", "/api/v1/admin/analytics?range=30d", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "30d", body["timeRange"])
	assert.Equal(t, float64(1), body["stats"].(map[string]any)["totalQueries"])
	assert.Len(t, body["trendingTopics"], 2)
	assert.Equal(t, now.Add(-30*24*time.Hour), src.since)
}

func TestAdminAnalyticsErrors(t *testing.T) {
	now := time.Now()

	resp, err := adminApp(&fakeSource{}, now).Test(httptest.NewRequest("GET", "/api/v1/admin/analytics?range=1y", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = adminApp(&fakeSource{err: errors.New("db locked")}, now).Test(httptest.NewRequest("GET", "/api/v1/admin/analytics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestAdminConversation(t *testing.T) {
	src := &fakeSource{conversations: []models.ChatTurn{{ConversationID: "c1", UserMessage: "hi"}}}
	app := adminApp(src, time.Now())

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/admin/conversations/c1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody(t, resp)["turns"], 1)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/admin/conversations/zzz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

type fakeConn struct {
	inbound  []string
	outbound []map[string]any
}

func (f *fakeConn) ReadJSON(v any) error {
	if len(f.inbound) == 0 {
		return io.EOF
	}
	next := f.inbound[0]
	f.inbound = f.inbound[1:]
	return json.Unmarshal([]byte(next), v)
}

func (f *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	f.outbound = append(f.outbound, frame)
	return nil
}

func frameTypes(frames []map[string]any) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f["type"].(string)
	}
	return types
}

func TestWebSocketStreamsNarrative(t *testing.T) {
	conn := &fakeConn{inbound: []string{
		`{"type":"ping"}`,
		`{"type":"chat","message":"When did camp open?","language":"en"}`,
	}}
	NewWebSocketHandler(&fakeChat{}).serve(context.Background(), conn, "conn-1")

	assert.Equal(t, []string{"status", "chunk", "chunk", "chunk", "chunk", "chunk", "chunk", "complete"}, frameTypes(conn.outbound))

	var text strings.Builder
	for _, f := range conn.outbound {
		if f["type"] == "chunk" {
			text.WriteString(f["content"].(string))
		}
	}
	assert.Equal(t, "The camp opened \nin 1885.", text.String())

	complete := conn.outbound[len(conn.outbound)-1]
	assert.Equal(t, "conv-1", complete["data"].(map[string]any)["conversationId"])
}

func TestWebSocketErrors(t *testing.T) {
	svc := &fakeChat{err: errors.New("escaped")}
	conn := &fakeConn{inbound: []string{
		`{"type":"chat","message":""}`,
		`{"type":"chat","message":"hello"}`,
	}}
	NewWebSocketHandler(svc).serve(context.Background(), conn, "conn-2")

	require.Equal(t, []string{"status", "error", "status", "error"}, frameTypes(conn.outbound))
	assert.Equal(t, "Message is required", conn.outbound[1]["error"])
	assert.Equal(t, "Internal server error", conn.outbound[3]["error"])
	assert.Equal(t, []string{"query_failed"}, svc.failures)
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "\n", "c"}, splitIntoWords("a  b\nc"))
	assert.Empty(t, splitIntoWords(""))
}
