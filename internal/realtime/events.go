package realtime

// Outbound event names.
const (
	EventNewMessage      = "new-message"
	EventMessageAlert    = "message-alert"
	EventTypingStart     = "typing-start"
	EventTypingStop      = "typing-stop"
	EventPresence        = "presence-snapshot"
	EventReactionAdded   = "reaction-added"
	EventReactionRemoved = "reaction-removed"
	EventChatListRefresh = "chat-list-refresh"
	EventError           = "error"
)

// Envelope is the wire frame for every websocket event.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ChatRef is the payload of alert and typing events.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// ErrorPayload is sent to a single sender when its request fails.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
