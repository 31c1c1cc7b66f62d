package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat-pdf-go/internal/apperr"
	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/internal/pipeline"
	"chat-pdf-go/internal/service"
	"chat-pdf-go/pkg/llm"
	"chat-pdf-go/pkg/vectorstore"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- fakes ---

type fakeExtractor struct{}

// 测试中 PDF 内容就是以换页符分隔的纯文本
func (fakeExtractor) ExtractPages(_ context.Context, name string, content []byte) ([]model.Page, error) {
	if bytes.HasPrefix(content, []byte("BROKEN")) {
		return nil, errors.New("malformed")
	}
	var pages []model.Page
	for i, text := range strings.Split(string(content), "\f") {
		pages = append(pages, model.Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

type fakeEmbedder struct {
	mu     sync.Mutex
	inputs []string
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, text)
	return []float32{float32(len(text)), 1}, nil
}

type fakeLLM struct {
	messages []llm.Message
	raw      string
	err      error
	// hang 为 true 时，流式回复发出第一个分块后一直阻塞到 ctx 取消
	hang atomic.Bool
}

func (f *fakeLLM) CreateChatCompletion(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (json.RawMessage, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.raw), nil
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	f.messages = messages
	if f.err != nil {
		return f.err
	}
	for _, d := range []string{"Hel", "lo"} {
		if err := w.WriteMessage(websocket.TextMessage, []byte(d)); err != nil {
			return err
		}
		if f.hang.Load() {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	return nil
}

type countingStore struct {
	vectorstore.Store
	upserts int
}

func (s *countingStore) Upsert(ctx context.Context, namespace string, vectors []model.Vector) error {
	s.upserts++
	return s.Store.Upsert(ctx, namespace, vectors)
}

type testApp struct {
	router   *gin.Engine
	store    *countingStore
	embedder *fakeEmbedder
	llm      *fakeLLM
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	chromem, err := vectorstore.NewChromem(config.ChromemConfig{})
	require.NoError(t, err)
	store := &countingStore{Store: chromem}
	embedder := &fakeEmbedder{}
	llmClient := &fakeLLM{raw: `{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"ok"}}]}`}

	ingestCfg := config.IngestionConfig{Granularity: "chunk", ChunkSize: 1000, ChunkOverlap: 200, UpsertBatchSize: 100, EmbedConcurrency: 2}
	ingestor := pipeline.NewIngestor(fakeExtractor{}, embedder, store, ingestCfg, "pdfNamespace")
	chatSvc := service.NewChatService(embedder, store, llmClient, "pdfNamespace",
		config.RetrievalConfig{TopK: 3},
		config.LLMConfig{Generation: config.LLMGenerationConfig{Temperature: 0.7, MaxTokens: 500}})

	return &testApp{
		router:   NewRouter(NewEmbedHandler(ingestor, 1), NewChatHandler(chatSvc)),
		store:    store,
		embedder: embedder,
		llm:      llmClient,
	}
}

type upload struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/embed", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["error"]
}

// --- /api/embed ---

func TestEmbedSuccess(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, multipartRequest(t, upload{"doc.pdf", "page one\fpage two"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results     string                  `json:"results"`
		VectorCount int                     `json:"vectorCount"`
		Embeddings  []model.EmbeddingRecord `json:"embeddings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Results)
	assert.Equal(t, 2, resp.VectorCount)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, "page two", resp.Embeddings[1].Chunk)
	assert.Equal(t, "doc.pdf", resp.Embeddings[1].DocumentName)
	assert.Equal(t, 1, app.store.upserts)
}

func TestEmbedNoFiles(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, multipartRequest(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No files provided", decodeError(t, w))
}

func TestEmbedNotMultipart(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/embed", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmbedRejectsNonPDFWithoutWrites(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, multipartRequest(t, upload{"a.pdf", "alpha"}, upload{"b.txt", "beta"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Only PDF files are allowed.", decodeError(t, w))
	assert.Zero(t, app.store.upserts)
	assert.Empty(t, app.embedder.inputs)
}

func TestEmbedUnparseablePDF(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, multipartRequest(t, upload{"good.pdf", "fine"}, upload{"bad.pdf", "BROKEN"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Failed to parse PDF file: bad.pdf", decodeError(t, w))
	assert.Zero(t, app.store.upserts)
}

func TestEmbedNoEmbeddings(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, multipartRequest(t, upload{"empty.pdf", "  "}))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No embeddings found for file: empty.pdf", decodeError(t, w))
}

func TestEmbedTooLarge(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, multipartRequest(t, upload{"huge.pdf", strings.Repeat("x", 2<<20)}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, app.store.upserts)
}

// --- /api/chat ---

func chatBody(messages ...model.ChatMessage) *strings.Reader {
	b, _ := json.Marshal(ChatRequest{Messages: messages})
	return strings.NewReader(string(b))
}

func TestChatReturnsRawCompletion(t *testing.T) {
	app := newTestApp(t)

	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, multipartRequest(t, upload{"doc.pdf", "cats are great\fdogs are loyal"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(
		model.ChatMessage{Role: "user", Content: "first question"},
		model.ChatMessage{Role: "user", Content: "tell me about cats"},
	))
	req.Header.Set("Content-Type", "application/json")
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, app.llm.raw, w.Body.String())
	assert.Equal(t, "tell me about cats", app.embedder.inputs[len(app.embedder.inputs)-1])
	require.Len(t, app.llm.messages, 3)
	assert.Equal(t, "system", app.llm.messages[0].Role)
	assert.Contains(t, app.llm.messages[0].Content, "cats are great")
	assert.Contains(t, app.llm.messages[0].Content, "dogs are loyal")
}

func TestChatWithEmptyStore(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(model.ChatMessage{Role: "user", Content: "anything?"}))
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasSuffix(app.llm.messages[0].Content, "No relevant results found."))
}

func TestChatUpstreamFailure(t *testing.T) {
	app := newTestApp(t)
	app.llm.err = errors.New("openai: 502 bad gateway")

	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(model.ChatMessage{Role: "user", Content: "hi"})))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "An error occurred while processing your request.", decodeError(t, w))
	assert.NotContains(t, w.Body.String(), "502")
}

func TestChatInvalidBody(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, MsgInvalidBody, decodeError(t, w))
}

func TestChatEmptyConversation(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", chatBody()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.MsgNoMessages, decodeError(t, w))
}

// --- /api/chat/stream ---

func dialStream(t *testing.T, app *testApp) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestStreamChat(t *testing.T) {
	app := newTestApp(t)
	conn := dialStream(t, app)

	require.NoError(t, conn.WriteJSON(ChatRequest{Messages: []model.ChatMessage{{Role: "user", Content: "hi"}}}))

	assert.Equal(t, "Hel", readFrame(t, conn)["chunk"])
	assert.Equal(t, "lo", readFrame(t, conn)["chunk"])
	done := readFrame(t, conn)
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, "finished", done["status"])
}

func TestStreamChatError(t *testing.T) {
	app := newTestApp(t)
	app.llm.err = errors.New("boom")
	conn := dialStream(t, app)

	require.NoError(t, conn.WriteJSON(ChatRequest{Messages: []model.ChatMessage{{Role: "user", Content: "hi"}}}))

	assert.Equal(t, MsgChatFailed, readFrame(t, conn)["error"])
	assert.Equal(t, "completion", readFrame(t, conn)["type"])
}

func TestStreamStopCancelsAndAllowsNextQuestion(t *testing.T) {
	app := newTestApp(t)
	app.llm.hang.Store(true)
	conn := dialStream(t, app)
	question := ChatRequest{Messages: []model.ChatMessage{{Role: "user", Content: "hi"}}}

	require.NoError(t, conn.WriteJSON(question))
	assert.Equal(t, "Hel", readFrame(t, conn)["chunk"])

	// 正在回答时的新问题被拒绝
	require.NoError(t, conn.WriteJSON(question))
	assert.Equal(t, MsgAlreadyStreams, readFrame(t, conn)["error"])

	start := time.Now()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))
	done := readFrame(t, conn)
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, service.StatusStopped, done["status"])
	assert.Equal(t, "stop", readFrame(t, conn)["type"])
	assert.Less(t, time.Since(start), 2*time.Second)

	app.llm.hang.Store(false)
	require.NoError(t, conn.WriteJSON(question))
	assert.Equal(t, "Hel", readFrame(t, conn)["chunk"])
	assert.Equal(t, "lo", readFrame(t, conn)["chunk"])
	finished := readFrame(t, conn)
	assert.Equal(t, "completion", finished["type"])
	assert.Equal(t, service.StatusFinished, finished["status"])
}

func TestStreamStopWithoutActiveStream(t *testing.T) {
	app := newTestApp(t)
	conn := dialStream(t, app)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))
	assert.Equal(t, "stop", readFrame(t, conn)["type"])
}

func TestStreamInvalidFrame(t *testing.T) {
	app := newTestApp(t)
	conn := dialStream(t, app)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	assert.Equal(t, MsgInvalidBody, readFrame(t, conn)["error"])
}

// --- misc ---

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperr.Validation("op", "bad")))
	assert.Equal(t, http.StatusNotFound, statusFor(apperr.NotFound("op", "f.pdf", "none")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("plain")))
	assert.Equal(t, "fallback", publicMessage(apperr.Upstream("op", "", errors.New("secret")), "fallback"))
}
