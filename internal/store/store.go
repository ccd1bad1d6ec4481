// Package store declares the persistence collaborators consumed by the
// real-time core. Implementations live in the memory and mongo subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// MessageStore persists messages.
type MessageStore interface {
	// CreateMessage assigns ID and CreatedAt when empty and saves the message.
	CreateMessage(ctx context.Context, msg *chat.Message) error
	FindMessage(ctx context.Context, id string) (*chat.Message, error)
	FindMessageByClientID(ctx context.Context, chatID, clientID string) (*chat.Message, error)
	// RecentMessages returns up to limit newest messages of a chat, oldest first.
	RecentMessages(ctx context.Context, chatID string, limit int) ([]chat.Message, error)
	AddReaction(ctx context.Context, messageID string, reaction chat.Reaction) (*chat.Message, error)
	RemoveReaction(ctx context.Context, messageID string, reaction chat.Reaction) (*chat.Message, error)
}

// ChatStore resolves conversations.
type ChatStore interface {
	FindChat(ctx context.Context, id string) (*chat.Chat, error)
}

// UserStore resolves identities and records last activity.
type UserStore interface {
	FindUser(ctx context.Context, id string) (*chat.User, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// Store bundles every collaborator.
type Store interface {
	MessageStore
	ChatStore
	UserStore
}
