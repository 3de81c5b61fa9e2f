package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"

	"karmika-sahayak/backend/chat/service"
	apperrors "karmika-sahayak/backend/pkg/errors"
	"karmika-sahayak/backend/pkg/logger"
)

const (
	// Time allowed to write one event frame to the peer.
	wsWriteWait = 10 * time.Second

	// Time allowed for the peer to deliver its send payload.
	wsReadWait = 30 * time.Second

	// Maximum payload size accepted from the peer. Matches the HTTP body
	// bound with headroom for JSON framing.
	wsMaxPayloadBytes = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// StreamMessageWS handles GET /chat/threads/:threadId/ws. The client sends
// one JSON send payload after the upgrade; the server answers with the same
// event objects the SSE endpoint emits, one JSON frame each, and closes
// after the terminal event.
func (h *Handler) StreamMessageWS(c *gin.Context) {
	log := logger.FromGin(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxPayloadBytes)
	conn.SetReadDeadline(time.Now().Add(wsReadWait))

	var req sendMessageRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.closeWS(conn, apperrors.NewValidationError("send payload is not valid JSON"))
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		h.closeWS(conn, apperrors.NewValidationError(bindingMessage(err)))
		return
	}
	if err := h.checkSend(&req); err != nil {
		h.closeWS(conn, err)
		return
	}

	in := service.SendInput{
		ThreadID: c.Param("threadId"),
		Message:  req.Message,
		UserID:   req.UserID,
		Token:    req.Token,
		Language: req.Language,
	}

	events, err := h.chat.StreamMessage(c.Request.Context(), in)
	if err != nil {
		h.closeWS(conn, apperrors.FromError(err))
		return
	}

	for ev := range events {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			log.Warn("WebSocket write failed, dropping client", "error", err.Error())
			return
		}
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// closeWS reports a pre-stream failure as a terminal error event followed by
// a close frame, mirroring the SSE error envelope.
func (h *Handler) closeWS(conn *websocket.Conn, appErr *apperrors.AppError) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteJSON(service.StreamEvent{
		Type:    service.EventError,
		Code:    appErr.Code,
		Message: appErr.Message,
	})
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, appErr.Code))
}
