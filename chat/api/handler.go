package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"karmika-sahayak/backend/chat/models"
	"karmika-sahayak/backend/chat/service"
	apperrors "karmika-sahayak/backend/pkg/errors"
	"karmika-sahayak/backend/pkg/logger"
)

// supportedLanguages are the reply-language codes the API accepts. The
// composer additionally ignores anything it has no instruction block for,
// so an unknown code can never reach a prompt.
var supportedLanguages = map[string]bool{
	"en": true, "kn": true, "hi": true, "ta": true, "te": true, "ml": true, "mr": true,
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("langcode", func(fl validator.FieldLevel) bool {
			return supportedLanguages[fl.Field().String()]
		})
	}
}

// ChatService is the session pipeline the handlers drive.
type ChatService interface {
	CreateThread(ctx context.Context) (*models.Thread, error)
	SendMessage(ctx context.Context, in service.SendInput) (*service.SendResult, error)
	StreamMessage(ctx context.Context, in service.SendInput) (<-chan service.StreamEvent, error)
	ListMessages(ctx context.Context, threadID string, limit, offset int) ([]models.Message, int64, error)
}

// HandlerOptions carries the request bounds enforced at the edge.
type HandlerOptions struct {
	MaxMessageChars  int
	ListDefaultLimit int
	ListMaxLimit     int
}

// DefaultHandlerOptions returns the bounds used when none are configured.
func DefaultHandlerOptions() HandlerOptions {
	return HandlerOptions{
		MaxMessageChars:  10000,
		ListDefaultLimit: 50,
		ListMaxLimit:     200,
	}
}

// Handler exposes the chat pipeline over HTTP.
type Handler struct {
	chat ChatService
	opts HandlerOptions
	log  *logger.Logger
}

func NewHandler(chat ChatService, opts HandlerOptions, log *logger.Logger) *Handler {
	if opts.MaxMessageChars <= 0 {
		opts.MaxMessageChars = DefaultHandlerOptions().MaxMessageChars
	}
	if opts.ListDefaultLimit <= 0 {
		opts.ListDefaultLimit = DefaultHandlerOptions().ListDefaultLimit
	}
	if opts.ListMaxLimit <= 0 {
		opts.ListMaxLimit = DefaultHandlerOptions().ListMaxLimit
	}
	return &Handler{chat: chat, opts: opts, log: log}
}

// sendMessageRequest is the body of a send or stream call. UserID and Token
// together form the opaque authentication signal; language selects the reply
// language.
type sendMessageRequest struct {
	Message  string `json:"message" binding:"required"`
	UserID   string `json:"userId" binding:"omitempty,max=64"`
	Token    string `json:"token" binding:"omitempty,max=4096"`
	Language string `json:"language" binding:"omitempty,langcode"`
}

// messageView is the API shape of one stored message.
type messageView struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMessageViews(msgs []models.Message) []messageView {
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Language:  m.Language,
			CreatedAt: m.CreatedAt,
		}
	}
	return views
}

// CreateThread handles POST /chat/threads.
func (h *Handler) CreateThread(c *gin.Context) {
	thread, err := h.chat.CreateThread(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"threadId":  thread.ID,
		"createdAt": thread.CreatedAt,
	})
}

// SendMessage handles POST /chat/threads/:threadId/messages. The reply is
// generated synchronously and returned whole.
func (h *Handler) SendMessage(c *gin.Context) {
	in, ok := h.bindSend(c)
	if !ok {
		return
	}

	result, err := h.chat.SendMessage(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StreamMessage handles POST /chat/threads/:threadId/messages/stream. The
// reply streams as SSE events: chunk fragments, then a terminal done or
// error event.
func (h *Handler) StreamMessage(c *gin.Context) {
	in, ok := h.bindSend(c)
	if !ok {
		return
	}

	events, err := h.chat.StreamMessage(c.Request.Context(), in)
	if err != nil {
		// Pre-stream failures still fit the JSON error envelope.
		c.Error(err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(ev.Type, ev)
		return true
	})
}

// ListMessages handles GET /chat/threads/:threadId/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	threadID := c.Param("threadId")

	limit, err := queryInt(c, "limit", h.opts.ListDefaultLimit)
	if err != nil || limit < 1 || limit > h.opts.ListMaxLimit {
		c.Error(apperrors.NewValidationError(
			"limit must be an integer between 1 and " + strconv.Itoa(h.opts.ListMaxLimit)))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.Error(apperrors.NewValidationError("offset must be a non-negative integer"))
		return
	}

	msgs, total, err := h.chat.ListMessages(c.Request.Context(), threadID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"threadId": threadID,
		"messages": toMessageViews(msgs),
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// bindSend parses and validates a send body. On failure it records the
// validation error and reports false; the caller just returns.
func (h *Handler) bindSend(c *gin.Context) (service.SendInput, bool) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewValidationError(bindingMessage(err)))
		return service.SendInput{}, false
	}
	if err := h.checkSend(&req); err != nil {
		c.Error(err)
		return service.SendInput{}, false
	}

	return service.SendInput{
		ThreadID: c.Param("threadId"),
		Message:  req.Message,
		UserID:   req.UserID,
		Token:    req.Token,
		Language: req.Language,
	}, true
}

// checkSend applies the bounds that depend on configuration rather than on
// struct tags.
func (h *Handler) checkSend(req *sendMessageRequest) *apperrors.AppError {
	if n := utf8.RuneCountInString(req.Message); n > h.opts.MaxMessageChars {
		return apperrors.NewValidationError(
			"message exceeds the maximum length of " + strconv.Itoa(h.opts.MaxMessageChars) + " characters")
	}
	return nil
}

// bindingMessage maps binding failures onto caller-friendly text without
// echoing internals.
func bindingMessage(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		field := verrs[0]
		switch field.Field() {
		case "Message":
			return "message is required"
		case "Language":
			return "language must be one of: en, kn, hi, ta, te, ml, mr"
		case "UserID":
			return "userId is too long"
		case "Token":
			return "token is too long"
		}
	}
	return "request body is not valid JSON or is missing required fields"
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
