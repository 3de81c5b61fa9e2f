package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karmika-sahayak/backend/chat/models"
	"karmika-sahayak/backend/chat/service"
	apperrors "karmika-sahayak/backend/pkg/errors"
	"karmika-sahayak/backend/pkg/logger"
)

// fakeChat is a scripted ChatService recording the inputs it receives.
type fakeChat struct {
	mu sync.Mutex

	thread    *models.Thread
	threadErr error

	sendResult *service.SendResult
	sendErr    error

	events    []service.StreamEvent
	streamErr error

	msgs    []models.Message
	total   int64
	listErr error

	lastSend   service.SendInput
	lastThread string
	lastLimit  int
	lastOffset int
}

func (f *fakeChat) CreateThread(ctx context.Context) (*models.Thread, error) {
	if f.threadErr != nil {
		return nil, f.threadErr
	}
	if f.thread != nil {
		return f.thread, nil
	}
	return &models.Thread{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}, nil
}

func (f *fakeChat) SendMessage(ctx context.Context, in service.SendInput) (*service.SendResult, error) {
	f.mu.Lock()
	f.lastSend = in
	f.mu.Unlock()

	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sendResult != nil {
		return f.sendResult, nil
	}
	return &service.SendResult{
		ThreadID:  in.ThreadID,
		MessageID: uuid.NewString(),
		Answer:    "scripted answer",
		Intent:    models.IntentGeneral,
	}, nil
}

func (f *fakeChat) StreamMessage(ctx context.Context, in service.SendInput) (<-chan service.StreamEvent, error) {
	f.mu.Lock()
	f.lastSend = in
	f.mu.Unlock()

	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan service.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeChat) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]models.Message, int64, error) {
	f.mu.Lock()
	f.lastThread = threadID
	f.lastLimit = limit
	f.lastOffset = offset
	f.mu.Unlock()

	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.msgs, f.total, nil
}

func (f *fakeChat) sent() service.SendInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSend
}

func newTestEngine(chat ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})

	engine := gin.New()
	engine.Use(logger.Middleware(log))
	engine.Use(apperrors.ErrorHandler())

	handler := NewHandler(chat, DefaultHandlerOptions(), log)
	RegisterRoutes(engine.Group("/api"), handler)
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, body string) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &envelope))
	return envelope.Error.Code
}

func TestCreateThreadReturnsID(t *testing.T) {
	fake := &fakeChat{thread: &models.Thread{ID: "0b61dbb3-6a35-4f34-9df9-bbc049e1e0a4"}}
	engine := newTestEngine(fake)

	w := doJSON(t, engine, http.MethodPost, "/api/chat/threads", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "0b61dbb3-6a35-4f34-9df9-bbc049e1e0a4", resp["threadId"])
}

func TestSendMessageReturnsAnswer(t *testing.T) {
	fake := &fakeChat{}
	engine := newTestEngine(fake)
	threadID := uuid.NewString()

	w := doJSON(t, engine, http.MethodPost, "/api/chat/threads/"+threadID+"/messages",
		`{"message":"how do I renew my card?","userId":"42","token":"tok","language":"kn"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp service.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, threadID, resp.ThreadID)
	assert.Equal(t, "scripted answer", resp.Answer)

	in := fake.sent()
	assert.Equal(t, threadID, in.ThreadID)
	assert.Equal(t, "how do I renew my card?", in.Message)
	assert.Equal(t, "42", in.UserID)
	assert.Equal(t, "tok", in.Token)
	assert.Equal(t, "kn", in.Language)
}

func TestSendMessageRejectsMissingMessage(t *testing.T) {
	engine := newTestEngine(&fakeChat{})

	w := doJSON(t, engine, http.MethodPost, "/api/chat/threads/"+uuid.NewString()+"/messages",
		`{"userId":"42"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, w.Body.String()))
}

func TestSendMessageRejectsUnknownLanguage(t *testing.T) {
	engine := newTestEngine(&fakeChat{})

	w := doJSON(t, engine, http.MethodPost, "/api/chat/threads/"+uuid.NewString()+"/messages",
		`{"message":"hello","language":"xx"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, w.Body.String()))
	assert.Contains(t, w.Body.String(), "language")
}

func TestSendMessageRejectsOverlongMessage(t *testing.T) {
	engine := newTestEngine(&fakeChat{})
	long := strings.Repeat("ಆ", 10001)

	w := doJSON(t, engine, http.MethodPost, "/api/chat/threads/"+uuid.NewString()+"/messages",
		`{"message":"`+long+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, w.Body.String()))
}

func TestSendMessageMapsServiceErrors(t *testing.T) {
	fake := &fakeChat{sendErr: apperrors.NewInvalidThreadIDError("nope")}
	engine := newTestEngine(fake)

	w := doJSON(t, engine, http.MethodPost, "/api/chat/threads/nope/messages",
		`{"message":"hello"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeInvalidThreadID, errorCode(t, w.Body.String()))
}

func TestListMessagesUsesDefaults(t *testing.T) {
	created := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	fake := &fakeChat{
		msgs: []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hi", CreatedAt: created},
			{ID: "m2", Role: models.RoleAssistant, Content: "hello", CreatedAt: created.Add(time.Second)},
		},
		total: 2,
	}
	engine := newTestEngine(fake)
	threadID := uuid.NewString()

	w := doJSON(t, engine, http.MethodGet, "/api/chat/threads/"+threadID+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, threadID, fake.lastThread)
	assert.Equal(t, 50, fake.lastLimit)
	assert.Equal(t, 0, fake.lastOffset)

	var resp struct {
		ThreadID string        `json:"threadId"`
		Messages []messageView `json:"messages"`
		Total    int64         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, threadID, resp.ThreadID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m1", resp.Messages[0].ID)
	assert.Equal(t, int64(2), resp.Total)
}

func TestListMessagesRejectsBadPaging(t *testing.T) {
	engine := newTestEngine(&fakeChat{})
	base := "/api/chat/threads/" + uuid.NewString() + "/messages"

	for _, query := range []string{"?limit=0", "?limit=201", "?limit=abc", "?offset=-1"} {
		w := doJSON(t, engine, http.MethodGet, base+query, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, apperrors.CodeValidation, errorCode(t, w.Body.String()), query)
	}
}

func TestListMessagesMapsNotFound(t *testing.T) {
	fake := &fakeChat{listErr: apperrors.NewThreadNotFoundError("gone")}
	engine := newTestEngine(fake)

	w := doJSON(t, engine, http.MethodGet, "/api/chat/threads/"+uuid.NewString()+"/messages", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.CodeThreadNotFound, errorCode(t, w.Body.String()))
}

func TestStreamMessageEmitsSSE(t *testing.T) {
	threadID := uuid.NewString()
	fake := &fakeChat{events: []service.StreamEvent{
		{Type: service.EventChunk, Content: "The board "},
		{Type: service.EventChunk, Content: "can help."},
		{Type: service.EventDone, ThreadID: threadID, MessageID: "m9", FullAnswer: "The board can help."},
	}}
	engine := newTestEngine(fake)

	srv := httptest.NewServer(engine)
	defer srv.Close()

	resp, err := http.Post(
		srv.URL+"/api/chat/threads/"+threadID+"/messages/stream",
		"application/json",
		strings.NewReader(`{"message":"what schemes exist?"}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "event:chunk")
	assert.Contains(t, text, "The board ")
	assert.Contains(t, text, "event:done")
	assert.Contains(t, text, "The board can help.")
	assert.Contains(t, text, "m9")
}

func TestStreamMessagePreStreamErrorIsJSON(t *testing.T) {
	fake := &fakeChat{streamErr: apperrors.NewInvalidThreadIDError("nope")}
	engine := newTestEngine(fake)

	w := doJSON(t, engine, http.MethodPost, "/api/chat/threads/nope/messages/stream",
		`{"message":"hello"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeInvalidThreadID, errorCode(t, w.Body.String()))
}

func TestStreamMessageWSDeliversEventFrames(t *testing.T) {
	threadID := uuid.NewString()
	fake := &fakeChat{events: []service.StreamEvent{
		{Type: service.EventChunk, Content: "part"},
		{Type: service.EventDone, ThreadID: threadID, MessageID: "m3", FullAnswer: "part"},
	}}
	engine := newTestEngine(fake)

	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/threads/" + threadID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "what schemes exist?"}))

	var first service.StreamEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, service.EventChunk, first.Type)
	assert.Equal(t, "part", first.Content)

	var second service.StreamEvent
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, service.EventDone, second.Type)
	assert.Equal(t, "m3", second.MessageID)

	err = conn.ReadJSON(&service.StreamEvent{})
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"expected a normal close, got %v", err)
}

func TestStreamMessageWSRejectsBadPayload(t *testing.T) {
	engine := newTestEngine(&fakeChat{})

	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/threads/" + uuid.NewString() + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"language": "xx"}))

	var ev service.StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, service.EventError, ev.Type)
	assert.Equal(t, apperrors.CodeValidation, ev.Code)
}
