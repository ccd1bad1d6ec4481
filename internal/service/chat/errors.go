package chat

import "errors"

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrNotMember      = errors.New("sender is not a chat member")
	ErrChatNotFound   = errors.New("chat not found")
	ErrReplyNotFound  = errors.New("reply target not found")
	ErrMessageMissing = errors.New("message not found")
)

// Error codes shared by the HTTP and websocket surfaces.
const (
	CodeInvalid   = "invalid_request"
	CodeForbidden = "forbidden"
	CodeNotFound  = "not_found"
	CodeInternal  = "internal"
)

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalid
	case errors.Is(err, ErrNotMember):
		return CodeForbidden
	case errors.Is(err, ErrChatNotFound), errors.Is(err, ErrReplyNotFound), errors.Is(err, ErrMessageMissing):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
