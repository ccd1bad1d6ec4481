package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/store"
)

// ReplyRef is the client's pointer to the message being answered. Either
// field may hold a persisted id or a client correlation id.
type ReplyRef struct {
	Reference string
	ClientID  string
}

// Empty reports whether no reply was requested.
func (r ReplyRef) Empty() bool {
	return unquote(r.Reference) == "" && unquote(r.ClientID) == ""
}

// ResolvedReply is the canonical reply target.
type ResolvedReply struct {
	ID      string
	Message *chat.Message
	View    *chat.MessageView
}

// ResolveReply maps ref to a stored message of chatID. The first applicable
// rule decides; there is no fallthrough on a miss:
//  1. explicit client id  -> lookup by client id
//  2. valid message id    -> lookup by id
//  3. anything else       -> lookup as client id
func (s *Service) ResolveReply(ctx context.Context, chatID string, ref ReplyRef) (*ResolvedReply, error) {
	reference := unquote(ref.Reference)
	clientID := unquote(ref.ClientID)

	var (
		msg *chat.Message
		err error
	)
	switch {
	case clientID != "":
		msg, err = s.messages.FindMessageByClientID(ctx, chatID, clientID)
	case reference == "":
		return nil, nil
	case chat.ValidMessageID(reference):
		msg, err = s.messages.FindMessage(ctx, reference)
		if err == nil && msg.ChatID != chatID {
			err = store.ErrNotFound
		}
	default:
		msg, err = s.messages.FindMessageByClientID(ctx, chatID, reference)
	}

	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrReplyNotFound, firstNonEmpty(clientID, reference))
	}
	if err != nil {
		return nil, fmt.Errorf("resolve reply: %w", err)
	}

	view := s.populate(ctx, *msg, false)
	return &ResolvedReply{ID: msg.ID, Message: msg, View: &view}, nil
}

// unquote trims whitespace and one pair of surrounding quotes, which some
// clients send when they stringify an already-string id.
func unquote(raw string) string {
	v := strings.TrimSpace(raw)
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			v = strings.TrimSpace(v[1 : len(v)-1])
		}
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
