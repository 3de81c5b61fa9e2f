package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"karmika-sahayak/backend/ai"
	"karmika-sahayak/backend/chat/models"
	"karmika-sahayak/backend/chat/repository"
	"karmika-sahayak/backend/kbocw"
	"karmika-sahayak/backend/pkg/locks"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/vectorstore"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

// fakeLLM is a scripted ai.Client with call counters.
type fakeLLM struct {
	mu sync.Mutex

	answer       string
	chatErr      error
	label        string
	classifyErr  error
	vector       []float32
	embedErr     error
	streamDeltas []ai.StreamDelta
	streamErr    error
	streamHold   chan struct{} // when set, ChatStream waits on it before emitting

	chatCalls     int
	streamCalls   int
	classifyCalls int
	embedCalls    int

	lastRequest ai.ChatRequest
	lastPrompt  string
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Chat(ctx context.Context, req ai.ChatRequest) (string, error) {
	f.mu.Lock()
	f.chatCalls++
	f.lastRequest = req
	f.mu.Unlock()

	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.answer, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, req ai.ChatRequest) (<-chan ai.StreamDelta, error) {
	f.mu.Lock()
	f.streamCalls++
	f.lastRequest = req
	hold := f.streamHold
	f.mu.Unlock()

	if f.streamErr != nil {
		return nil, f.streamErr
	}

	deltas := f.streamDeltas
	if deltas == nil {
		deltas = []ai.StreamDelta{{Content: f.answer}, {Done: true}}
	}

	ch := make(chan ai.StreamDelta, len(deltas)+1)
	go func() {
		defer close(ch)
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				ch <- ai.StreamDelta{Err: ctx.Err()}
				return
			}
		}
		for _, d := range deltas {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeLLM) Classify(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.classifyCalls++
	f.lastPrompt = prompt
	f.mu.Unlock()

	if f.classifyErr != nil {
		return "", f.classifyErr
	}
	if f.label == "" {
		return "GENERAL", nil
	}
	return f.label, nil
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()

	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if f.vector != nil {
		return f.vector, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeLLM) counts() (chat, stream, classify, embed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls, f.streamCalls, f.classifyCalls, f.embedCalls
}

func (f *fakeLLM) request() ai.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRequest
}

// fakeSearcher is a scripted SnippetSearcher.
type fakeSearcher struct {
	mu      sync.Mutex
	snips   []vectorstore.Snippet
	err     error
	calls   int
	lastK   int
	lastVec []float32
}

func (f *fakeSearcher) QueryTopK(ctx context.Context, vector []float32, k int) ([]vectorstore.Snippet, error) {
	f.mu.Lock()
	f.calls++
	f.lastK = k
	f.lastVec = vector
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return f.snips, nil
}

func (f *fakeSearcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFetcher is a scripted board client.
type fakeFetcher struct {
	mu     sync.Mutex
	record *kbocw.UserRecord
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeFetcher) FetchUserRecord(ctx context.Context, userID, token string) (*kbocw.UserRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.record != nil {
		return f.record, nil
	}
	return &kbocw.UserRecord{UserID: userID, FetchedAt: time.Now().UTC()}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memoryStore is an in-memory repository.Store with failure injection.
type memoryStore struct {
	mu       sync.Mutex
	threads  map[string]models.Thread
	messages []models.Message
	cache    map[string][]byte

	appendErr error
	failRole  string // scope appendErr to one role; empty fails all
}

var _ repository.Store = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{
		threads: map[string]models.Thread{},
		cache:   map[string][]byte{},
	}
}

func (m *memoryStore) CreateThread(ctx context.Context) (*models.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := models.Thread{ID: uuid.NewString(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	m.threads[t.ID] = t
	return &t, nil
}

func (m *memoryStore) EnsureThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		m.threads[threadID] = models.Thread{ID: threadID, CreatedAt: time.Now().UTC()}
	}
	return nil
}

func (m *memoryStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.threads[threadID]
	return ok, nil
}

func (m *memoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil && (m.failRole == "" || m.failRole == msg.Role) {
		return m.appendErr
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memoryStore) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]models.Message, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return nil, 0, repository.ErrThreadNotFound
	}

	all := m.filterLocked(threadID)
	total := int64(len(all))
	if offset >= len(all) {
		return []models.Message{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]models.Message(nil), all[offset:end]...), total, nil
}

func (m *memoryStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filterLocked(threadID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.Message(nil), all...), nil
}

func (m *memoryStore) GetUserRecordCache(ctx context.Context, threadID, userID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.cache[threadID+"/"+userID]
	if !ok {
		return nil, nil
	}
	return payload, nil
}

func (m *memoryStore) SaveUserRecordCache(ctx context.Context, threadID, userID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[threadID+"/"+userID] = payload
	return nil
}

func (m *memoryStore) CleanupExpired(ctx context.Context, messageAge, cacheAge time.Duration) (int64, int64, error) {
	return 0, 0, nil
}

func (m *memoryStore) filterLocked(threadID string) []models.Message {
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *memoryStore) allMessages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages...)
}

func (m *memoryStore) threadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

// serviceFixture wires a Service from fakes with production-like options.
type serviceFixture struct {
	svc     *Service
	store   *memoryStore
	llm     *fakeLLM
	fetcher *fakeFetcher
	search  *fakeSearcher
}

func newServiceFixture(opts Options) *serviceFixture {
	store := newMemoryStore()
	llm := &fakeLLM{answer: "Namaste, I can help with that."}
	fetcher := &fakeFetcher{}
	search := &fakeSearcher{}
	log := quietLogger()

	classifier := NewIntentClassifier(llm, log)
	records := NewUserDataCoordinator(store, nil, fetcher, time.Hour, log)
	composer := NewComposer(llm, search, ComposerOptions{
		HistoryWindow:      6,
		HistoryWindowAuth:  10,
		MaxAnswerChars:     4000,
		TopK:               5,
		CertaintyThreshold: 0.35,
	}, log)

	if opts.ReplyTimeout == 0 {
		opts.ReplyTimeout = 5 * time.Second
	}
	if opts.StreamTimeout == 0 {
		opts.StreamTimeout = 5 * time.Second
	}

	svc := NewService(store, locks.NewRegistry(128), classifier, records, composer, opts, log)
	return &serviceFixture{svc: svc, store: store, llm: llm, fetcher: fetcher, search: search}
}
