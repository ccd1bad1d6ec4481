// Package chat implements the persist-then-broadcast message protocol.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/realtime"
	"github.com/zhouzirui/tavern-chat/backend/internal/store"
)

var log = logrus.WithField("component", "chat")

// Publisher fans an event out to members; realtime.Broadcaster implements it.
type Publisher interface {
	Publish(event string, memberIDs []string, payload any)
}

// Service encapsulates message send, reply resolution and reactions.
type Service struct {
	messages  store.MessageStore
	chats     store.ChatStore
	users     store.UserStore
	publisher Publisher
}

// NewService wires the protocol to its collaborators.
func NewService(messages store.MessageStore, chats store.ChatStore, users store.UserStore, publisher Publisher) *Service {
	return &Service{messages: messages, chats: chats, users: users, publisher: publisher}
}

// SendRequest is the inbound send-message payload.
type SendRequest struct {
	ChatID        string            `json:"chatId"`
	SenderID      string            `json:"senderId"`
	Members       []string          `json:"members,omitempty"`
	Content       string            `json:"content"`
	Attachments   []chat.Attachment `json:"attachments,omitempty"`
	ReplyTo       string            `json:"replyTo,omitempty"`
	ReplyClientID string            `json:"replyClientId,omitempty"`
	ClientID      string            `json:"clientId,omitempty"`
}

// NewMessagePayload is the new-message event body.
type NewMessagePayload struct {
	ChatID  string           `json:"chatId"`
	Message chat.MessageView `json:"message"`
}

// ReactionPayload is the reaction-added / reaction-removed event body.
type ReactionPayload struct {
	MessageID string        `json:"messageId"`
	Reaction  chat.Reaction `json:"reaction"`
}

// Send validates the request, resolves its reply target, persists the
// message and then publishes new-message followed by message-alert. A failed
// reply resolution aborts before anything is written.
func (s *Service) Send(ctx context.Context, req SendRequest) (*chat.MessageView, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.ChatID == "" || req.SenderID == "" {
		return nil, fmt.Errorf("%w: chatId and senderId are required", ErrInvalidMessage)
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("%w: content or attachments required", ErrInvalidMessage)
	}

	conversation, err := s.findChat(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasMember(req.SenderID) {
		return nil, ErrNotMember
	}

	reply, err := s.ResolveReply(ctx, req.ChatID, ReplyRef{Reference: req.ReplyTo, ClientID: req.ReplyClientID})
	if err != nil {
		return nil, err
	}

	msg := chat.Message{
		ChatID:      req.ChatID,
		SenderID:    req.SenderID,
		Content:     req.Content,
		Attachments: req.Attachments,
		ClientID:    unquote(req.ClientID),
	}
	if reply != nil {
		msg.ReplyTo = reply.ID
	}

	if err := s.messages.CreateMessage(ctx, &msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	view := s.populate(ctx, msg, false)
	if reply != nil {
		view.ReplyTo = reply.View
	}

	members := req.Members
	if len(members) == 0 {
		members = conversation.Members
	}

	s.publisher.Publish(realtime.EventNewMessage, members, NewMessagePayload{ChatID: req.ChatID, Message: view})
	s.publisher.Publish(realtime.EventMessageAlert, members, realtime.ChatRef{ChatID: req.ChatID})

	log.WithFields(logrus.Fields{
		"chat_id":    req.ChatID,
		"message_id": msg.ID,
		"sender_id":  req.SenderID,
		"reply":      msg.ReplyTo != "",
	}).Debug("message sent")
	return &view, nil
}

// React adds a reaction and publishes reaction-added.
func (s *Service) React(ctx context.Context, messageID string, reaction chat.Reaction, members []string) (*chat.Message, error) {
	return s.changeReaction(ctx, messageID, reaction, members, true)
}

// Unreact removes a reaction and publishes reaction-removed.
func (s *Service) Unreact(ctx context.Context, messageID string, reaction chat.Reaction, members []string) (*chat.Message, error) {
	return s.changeReaction(ctx, messageID, reaction, members, false)
}

func (s *Service) changeReaction(ctx context.Context, messageID string, reaction chat.Reaction, members []string, add bool) (*chat.Message, error) {
	if messageID == "" || reaction.UserID == "" || strings.TrimSpace(reaction.Emoji) == "" {
		return nil, fmt.Errorf("%w: messageId, userId and emoji are required", ErrInvalidMessage)
	}

	var (
		msg   *chat.Message
		err   error
		event string
	)
	if add {
		msg, err = s.messages.AddReaction(ctx, messageID, reaction)
		event = realtime.EventReactionAdded
	} else {
		msg, err = s.messages.RemoveReaction(ctx, messageID, reaction)
		event = realtime.EventReactionRemoved
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageMissing
	}
	if err != nil {
		return nil, fmt.Errorf("update reaction: %w", err)
	}

	if len(members) == 0 {
		if c, err := s.findChat(ctx, msg.ChatID); err == nil {
			members = c.Members
		}
	}
	s.publisher.Publish(event, members, ReactionPayload{MessageID: messageID, Reaction: reaction})
	return msg, nil
}

// Typing relays a typing indicator to every member except the typist.
func (s *Service) Typing(chatID, userID string, members []string, started bool) {
	event := realtime.EventTypingStop
	if started {
		event = realtime.EventTypingStart
	}
	s.publisher.Publish(event, without(members, userID), realtime.ChatRef{ChatID: chatID})
}

// RefreshChatList tells members to reload their chat lists.
func (s *Service) RefreshChatList(members []string) {
	s.publisher.Publish(realtime.EventChatListRefresh, members, members)
}

// History returns the newest limit messages of a chat, populated, oldest first.
func (s *Service) History(ctx context.Context, chatID string, limit int) ([]chat.MessageView, error) {
	if _, err := s.findChat(ctx, chatID); err != nil {
		return nil, err
	}
	messages, err := s.messages.RecentMessages(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	views := make([]chat.MessageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, s.populate(ctx, msg, true))
	}
	return views, nil
}

// FindChat exposes chat lookup with the service's error mapping.
func (s *Service) FindChat(ctx context.Context, chatID string) (*chat.Chat, error) {
	return s.findChat(ctx, chatID)
}

func (s *Service) findChat(ctx context.Context, chatID string) (*chat.Chat, error) {
	c, err := s.chats.FindChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	return c, nil
}

// populate fills the sender and, when withReply is set, one level of reply.
func (s *Service) populate(ctx context.Context, msg chat.Message, withReply bool) chat.MessageView {
	view := chat.MessageView{
		ID:          msg.ID,
		ChatID:      msg.ChatID,
		Content:     msg.Content,
		Sender:      s.sender(ctx, msg.SenderID),
		Attachments: msg.Attachments,
		Reactions:   msg.Reactions,
		ClientID:    msg.ClientID,
		CreatedAt:   msg.CreatedAt,
	}
	if withReply && msg.ReplyTo != "" {
		if target, err := s.messages.FindMessage(ctx, msg.ReplyTo); err == nil {
			reply := s.populate(ctx, *target, false)
			view.ReplyTo = &reply
		}
	}
	return view
}

func (s *Service) sender(ctx context.Context, userID string) chat.Sender {
	user, err := s.users.FindUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithField("user_id", userID).Warn("populate sender failed")
		}
		return chat.Sender{ID: userID}
	}
	return user.AsSender()
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
