package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"karmika-sahayak/backend/chat/models"
	"karmika-sahayak/backend/chat/repository"
	"karmika-sahayak/backend/kbocw"
	apperrors "karmika-sahayak/backend/pkg/errors"
	"karmika-sahayak/backend/pkg/locks"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/metrics"
)

// commitTimeout bounds the detached write that stores a finished streamed
// reply. It must not inherit the request context or a client disconnect
// after generation would drop an answer the user already saw.
const commitTimeout = 10 * time.Second

// SendInput is one inbound chat message.
type SendInput struct {
	ThreadID string
	Message  string
	UserID   string
	Token    string
	Language string
}

// Authenticated reports whether the sender proved an identity. The board
// user id and a bearer token are both required; either alone counts as
// anonymous.
func (in SendInput) Authenticated() bool {
	return in.UserID != "" && in.Token != ""
}

// SendResult is the committed outcome of a send.
type SendResult struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	Answer    string `json:"answer"`
	Intent    string `json:"intent"`
}

// Options bound the generation phases.
type Options struct {
	ReplyTimeout  time.Duration
	StreamTimeout time.Duration
}

// Service runs the per-thread message pipeline. Every mutation of a thread
// happens under that thread's lock. The streaming path releases the lock for
// the generation phase and re-acquires it only to commit the reply, so slow
// generations do not starve other threads' senders or this thread's readers.
type Service struct {
	store      repository.Store
	locks      *locks.Registry
	classifier *IntentClassifier
	records    *UserDataCoordinator
	composer   *Composer
	opts       Options
	log        *logger.Logger
}

func NewService(store repository.Store, registry *locks.Registry, classifier *IntentClassifier, records *UserDataCoordinator, composer *Composer, opts Options, log *logger.Logger) *Service {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 120 * time.Second
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 300 * time.Second
	}
	return &Service{
		store:      store,
		locks:      registry,
		classifier: classifier,
		records:    records,
		composer:   composer,
		opts:       opts,
		log:        log,
	}
}

// CreateThread opens a fresh empty thread.
func (s *Service) CreateThread(ctx context.Context) (*models.Thread, error) {
	thread, err := s.store.CreateThread(ctx)
	if err != nil {
		s.log.LogError(err, "Thread create failed")
		return nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "could not create thread")
	}
	return thread, nil
}

// SendMessage runs the full pipeline and returns the committed reply. The
// thread lock is held across generation so the reply lands in history before
// any concurrent sender on the same thread proceeds.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*SendResult, error) {
	threadID, err := normalizeThreadID(in.ThreadID)
	if err != nil {
		return nil, apperrors.NewInvalidThreadIDError(in.ThreadID)
	}
	log := s.log.WithThreadID(threadID)

	mu := s.locks.Get(threadID)
	mu.Lock()
	defer mu.Unlock()

	prep, err := s.prepare(ctx, threadID, in, log)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.opts.ReplyTimeout)
	defer cancel()

	answer, err := s.composer.Compose(genCtx, prep.compose)
	if err != nil {
		log.LogError(err, "Reply generation failed")
		return nil, apperrors.NewGenerationError("the assistant could not produce a reply")
	}

	return s.commitReply(ctx, threadID, prep, answer, log)
}

// StreamMessage runs the pipeline and streams the reply. The returned error
// covers everything before the first event; once the channel is handed out
// all failures arrive in-band as a terminal error event. The channel is
// closed after the terminal event (done or error).
func (s *Service) StreamMessage(ctx context.Context, in SendInput) (<-chan StreamEvent, error) {
	threadID, err := normalizeThreadID(in.ThreadID)
	if err != nil {
		return nil, apperrors.NewInvalidThreadIDError(in.ThreadID)
	}
	log := s.log.WithThreadID(threadID)

	mu := s.locks.Get(threadID)
	mu.Lock()
	prep, err := s.prepare(ctx, threadID, in, log)
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 32)
	go s.streamReply(ctx, threadID, prep, events, log)
	return events, nil
}

// ListMessages returns one page of a thread's transcript in chronological
// order, plus the total row count for paging.
func (s *Service) ListMessages(ctx context.Context, rawThreadID string, limit, offset int) ([]models.Message, int64, error) {
	threadID, err := normalizeThreadID(rawThreadID)
	if err != nil {
		return nil, 0, apperrors.NewInvalidThreadIDError(rawThreadID)
	}

	msgs, total, err := s.store.ListMessages(ctx, threadID, limit, offset)
	if err != nil {
		if stderrors.Is(err, repository.ErrThreadNotFound) {
			return nil, 0, apperrors.NewThreadNotFoundError(threadID)
		}
		s.log.WithThreadID(threadID).LogError(err, "Message list failed")
		return nil, 0, apperrors.NewInternalServerError(apperrors.CodeInternal, "could not load messages")
	}
	return msgs, total, nil
}

// prepared is the locked front half of the pipeline, shared by both paths.
type prepared struct {
	userMessage models.Message
	compose     ComposeInput
}

// prepare must be called with the thread lock held. It makes the thread and
// the user message durable, classifies, and resolves any personal record the
// reply needs. The history snapshot is taken before the user message is
// stored because the composer appends the question itself.
func (s *Service) prepare(ctx context.Context, threadID string, in SendInput, log *logger.Logger) (*prepared, error) {
	if err := s.store.EnsureThread(ctx, threadID); err != nil {
		log.LogError(err, "Thread upsert failed")
		return nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "could not store the message")
	}

	history, err := s.store.RecentMessages(ctx, threadID, s.composer.HistoryDepth())
	if err != nil {
		log.LogError(err, "History read failed")
		return nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "could not load the conversation")
	}

	userMsg := models.Message{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		Role:     models.RoleUser,
		Content:  in.Message,
		UserID:   in.UserID,
		Language: in.Language,
	}
	if err := s.store.AppendMessage(ctx, &userMsg); err != nil {
		log.LogError(err, "User message persist failed")
		return nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "could not store the message")
	}

	authenticated := in.Authenticated()
	cls := s.classifier.Classify(ctx, in.Message, authenticated)
	intent := EffectiveIntent(cls, authenticated)

	var record *kbocw.UserRecord
	switch {
	case intent == models.IntentStatus:
		record = s.records.Resolve(ctx, threadID, in.UserID, in.Token)
	case intent == models.IntentGeneral && authenticated:
		record = s.records.Peek(ctx, threadID, in.UserID)
	}

	return &prepared{
		userMessage: userMsg,
		compose: ComposeInput{
			Question:      in.Message,
			Intent:        intent,
			Language:      in.Language,
			Authenticated: authenticated,
			History:       history,
			Record:        record,
		},
	}, nil
}

// streamReply owns the events channel. Generation runs without the thread
// lock; the commit re-acquires it. A reply is persisted if and only if the
// stream reached its done marker.
func (s *Service) streamReply(ctx context.Context, threadID string, prep *prepared, events chan<- StreamEvent, log *logger.Logger) {
	defer close(events)

	genCtx, cancel := context.WithTimeout(ctx, s.opts.StreamTimeout)
	defer cancel()

	deltas, err := s.composer.ComposeStream(genCtx, prep.compose)
	if err != nil {
		log.LogError(err, "Reply stream failed to start")
		metrics.RecordStreamOutcome("generation_failed")
		s.emit(ctx, events, errorEvent(apperrors.CodeGeneration, "the assistant could not produce a reply"))
		return
	}

	var answer strings.Builder
	completed := false
loop:
	for delta := range deltas {
		switch {
		case delta.Err != nil:
			s.failStream(ctx, genCtx, events, delta.Err, log)
			return
		case delta.Done:
			completed = true
			break loop
		case delta.Content != "":
			answer.WriteString(delta.Content)
			if !s.emit(ctx, events, chunkEvent(delta.Content)) {
				metrics.RecordStreamOutcome("client_gone")
				return
			}
		}
	}
	if !completed {
		s.failStream(ctx, genCtx, events, stderrors.New("stream ended without completion"), log)
		return
	}

	result, err := s.commitStream(threadID, prep, answer.String(), log)
	if err != nil {
		metrics.RecordStreamOutcome("persist_failed")
		s.emit(ctx, events, errorEvent(apperrors.CodePersistFailed,
			"the reply was generated but could not be stored"))
		return
	}
	metrics.RecordStreamOutcome("completed")
	s.emit(ctx, events, doneEvent(result.ThreadID, result.MessageID, result.Answer))
}

// failStream emits the terminal error event for an aborted generation,
// distinguishing deadline expiry from backend failure.
func (s *Service) failStream(ctx, genCtx context.Context, events chan<- StreamEvent, cause error, log *logger.Logger) {
	if stderrors.Is(genCtx.Err(), context.DeadlineExceeded) {
		log.Warn("Reply stream timed out", "timeout", s.opts.StreamTimeout.String())
		metrics.RecordStreamOutcome("timeout")
		s.emit(ctx, events, errorEvent(apperrors.CodeStreamTimeout,
			"the reply took too long and was aborted"))
		return
	}
	log.LogError(cause, "Reply stream failed")
	metrics.RecordStreamOutcome("generation_failed")
	s.emit(ctx, events, errorEvent(apperrors.CodeGeneration,
		"the assistant could not produce a reply"))
}

// commitStream persists a finished streamed reply under the thread lock. It
// runs on a detached context so a disconnecting client cannot abort a write
// for an answer it already received.
func (s *Service) commitStream(threadID string, prep *prepared, answer string, log *logger.Logger) (*SendResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	mu := s.locks.Get(threadID)
	mu.Lock()
	defer mu.Unlock()
	return s.commitReply(ctx, threadID, prep, answer, log)
}

func (s *Service) commitReply(ctx context.Context, threadID string, prep *prepared, answer string, log *logger.Logger) (*SendResult, error) {
	msg := models.Message{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		Role:     models.RoleAssistant,
		Content:  answer,
		Language: prep.compose.Language,
		Intent:   prep.compose.Intent,
	}
	if err := s.store.AppendMessage(ctx, &msg); err != nil {
		log.LogError(err, "Assistant message persist failed")
		return nil, apperrors.NewPersistError("the reply was generated but could not be stored")
	}
	return &SendResult{
		ThreadID:  threadID,
		MessageID: msg.ID,
		Answer:    answer,
		Intent:    prep.compose.Intent,
	}, nil
}

// emit delivers an event unless the client has gone away.
func (s *Service) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// normalizeThreadID canonicalizes a caller-supplied thread id. Rejecting
// malformed ids up front keeps them out of lock keys, log fields, and rows;
// accepted ids are always the lowercase canonical form, so two spellings of
// the same UUID share one lock and one thread.
func normalizeThreadID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
