package chat

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Attachment references an uploaded file; the blob itself lives elsewhere.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is a persisted chat turn. Only Reactions may change after creation.
type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	SenderID    string       `json:"senderId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	ClientID    string       `json:"clientId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// NewMessageID returns a fresh identifier in the document store's format.
func NewMessageID() string {
	return primitive.NewObjectID().Hex()
}

// ValidMessageID reports whether ref is syntactically a persisted message id.
func ValidMessageID(ref string) bool {
	return primitive.IsValidObjectID(ref)
}

// Sender is the populated author shown to clients.
type Sender struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// MessageView is a message with sender and reply target populated.
type MessageView struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	Content     string       `json:"content"`
	Sender      Sender       `json:"sender"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	ClientID    string       `json:"clientId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	ReplyTo     *MessageView `json:"replyTo"`
}
