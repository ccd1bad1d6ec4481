// Package memory is an in-process implementation of the store collaborators,
// used in development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/store"
)

var ErrMembersRequired = errors.New("chat requires at least one member")

// Store keeps chats, users and messages in maps guarded by one lock.
type Store struct {
	mu       sync.RWMutex
	chats    map[string]chat.Chat
	users    map[string]chat.User
	messages map[string][]chat.Message
	byID     map[string]messageRef
}

type messageRef struct {
	chatID string
	index  int
}

// New bootstraps an empty store.
func New() *Store {
	return &Store{
		chats:    make(map[string]chat.Chat),
		users:    make(map[string]chat.User),
		messages: make(map[string][]chat.Message),
		byID:     make(map[string]messageRef),
	}
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(user chat.User) {
	s.mu.Lock()
	s.users[user.ID] = user
	s.mu.Unlock()
}

// CreateChat provisions a conversation between members.
func (s *Store) CreateChat(_ context.Context, name string, members []string) (chat.Chat, error) {
	if len(members) == 0 {
		return chat.Chat{}, ErrMembersRequired
	}

	c := chat.Chat{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   append([]string(nil), members...),
		IsGroup:   len(members) > 2,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.chats[c.ID] = c
	s.messages[c.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return c, nil
}

// FindChat retrieves a chat by identifier.
func (s *Store) FindChat(_ context.Context, id string) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.Members = append([]string(nil), c.Members...)
	return &c, nil
}

// FindUser retrieves a user by identifier.
func (s *Store) FindUser(_ context.Context, id string) (*chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

// UpdateLastSeen stamps the user's last activity.
func (s *Store) UpdateLastSeen(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.LastSeen = at
	s.users[id] = u
	return nil
}

// CreateMessage appends a message to its chat history.
func (s *Store) CreateMessage(_ context.Context, msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[msg.ChatID]; !ok {
		return store.ErrNotFound
	}

	if msg.ID == "" {
		msg.ID = chat.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], cloneMessage(*msg))
	s.byID[msg.ID] = messageRef{chatID: msg.ChatID, index: len(s.messages[msg.ChatID]) - 1}
	return nil
}

// FindMessage looks a message up by its persisted id.
func (s *Store) FindMessage(_ context.Context, id string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	msg := cloneMessage(s.messages[ref.chatID][ref.index])
	return &msg, nil
}

// FindMessageByClientID looks a message up by its client correlation id.
func (s *Store) FindMessageByClientID(_ context.Context, chatID, clientID string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.messages[chatID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ClientID == clientID {
			msg := cloneMessage(history[i])
			return &msg, nil
		}
	}
	return nil, store.ErrNotFound
}

// RecentMessages returns the newest limit messages, oldest first.
func (s *Store) RecentMessages(_ context.Context, chatID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.messages[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}

	start := 0
	if limit > 0 && len(history) > limit {
		start = len(history) - limit
	}

	copied := make([]chat.Message, 0, len(history)-start)
	for _, msg := range history[start:] {
		copied = append(copied, cloneMessage(msg))
	}
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})
	return copied, nil
}

// AddReaction records a reaction unless the same user already left that emoji.
func (s *Store) AddReaction(_ context.Context, messageID string, reaction chat.Reaction) (*chat.Message, error) {
	return s.mutateReactions(messageID, func(list []chat.Reaction) []chat.Reaction {
		for _, r := range list {
			if r == reaction {
				return list
			}
		}
		return append(list, reaction)
	})
}

// RemoveReaction deletes a user's emoji from a message.
func (s *Store) RemoveReaction(_ context.Context, messageID string, reaction chat.Reaction) (*chat.Message, error) {
	return s.mutateReactions(messageID, func(list []chat.Reaction) []chat.Reaction {
		kept := list[:0]
		for _, r := range list {
			if r != reaction {
				kept = append(kept, r)
			}
		}
		return kept
	})
}

func (s *Store) mutateReactions(messageID string, fn func([]chat.Reaction) []chat.Reaction) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byID[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	msg := &s.messages[ref.chatID][ref.index]
	msg.Reactions = fn(append([]chat.Reaction(nil), msg.Reactions...))
	out := cloneMessage(*msg)
	return &out, nil
}

func cloneMessage(m chat.Message) chat.Message {
	m.Attachments = append([]chat.Attachment(nil), m.Attachments...)
	m.Reactions = append([]chat.Reaction(nil), m.Reactions...)
	return m
}
