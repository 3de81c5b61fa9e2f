package service

// Stream event discriminators.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is one event on the streaming send path. Chunk events carry
// Content; done events carry the persisted message id and the full answer;
// error events are terminal and carry a code and message.
type StreamEvent struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	ThreadID   string `json:"threadId,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	FullAnswer string `json:"fullAnswer,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func chunkEvent(content string) StreamEvent {
	return StreamEvent{Type: EventChunk, Content: content}
}

func doneEvent(threadID, messageID, answer string) StreamEvent {
	return StreamEvent{Type: EventDone, ThreadID: threadID, MessageID: messageID, FullAnswer: answer}
}

func errorEvent(code, message string) StreamEvent {
	return StreamEvent{Type: EventError, Code: code, Message: message}
}
