// Package ws serves the real-time websocket endpoint.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/metrics"
	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/realtime"
	chatService "github.com/zhouzirui/tavern-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/store"
	"github.com/zhouzirui/tavern-chat/backend/pkg/utils"
)

var log = logrus.WithField("component", "ws")

const (
	readWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	lastSeenWait = 5 * time.Second
)

// Inbound message types.
const (
	TypeSendMessage     = "send-message"
	TypeTypingStart     = "typing-start"
	TypeTypingStop      = "typing-stop"
	TypePresenceJoin    = "presence-join"
	TypePresenceLeave   = "presence-leave"
	TypeReactionAdd     = "reaction-add"
	TypeReactionRemove  = "reaction-remove"
	TypeChatListRefresh = "chat-list-refresh"
)

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type typingPayload struct {
	ChatID  string   `json:"chatId"`
	Members []string `json:"members"`
}

type presencePayload struct {
	UserID  string   `json:"userId"`
	Members []string `json:"members"`
}

type reactionPayload struct {
	MessageID string   `json:"messageId"`
	Emoji     string   `json:"emoji"`
	Members   []string `json:"members"`
}

type refreshPayload struct {
	Members []string `json:"members"`
}

// Handler WebSocket实时事件处理器
type Handler struct {
	registry    *realtime.Registry
	presence    *realtime.Presence
	broadcaster *realtime.Broadcaster
	chatSvc     *chatService.Service
	users       store.UserStore
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
}

// New 创建WebSocket处理器
func New(registry *realtime.Registry, presence *realtime.Presence, broadcaster *realtime.Broadcaster, chatSvc *chatService.Service, users store.UserStore, m *metrics.Metrics) *Handler {
	return &Handler{
		registry:    registry,
		presence:    presence,
		broadcaster: broadcaster,
		chatSvc:     chatSvc,
		users:       users,
		metrics:     m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{userID}", h.handleWebSocket)
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userID is required")
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("upgrade failed")
		return
	}

	conn := realtime.NewConn(userID, socket)
	entry := log.WithFields(logrus.Fields{"user_id": userID, "session_id": conn.ID()})

	if replaced := h.registry.Register(userID, conn); replaced != nil {
		entry.WithField("replaced", replaced.ID()).Info("session replaced")
	}
	h.metrics.SessionOpened()
	// A reconnecting user is already online but the new session still needs
	// the snapshot.
	h.presence.MarkOnline(userID)
	h.broadcaster.PublishPresenceToOnline()
	entry.Info("session opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.disconnect(conn)
		entry.Info("session closed")
	}()

	socket.SetReadDeadline(time.Now().Add(readWait))
	socket.SetPongHandler(func(string) error {
		socket.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	go h.pingLoop(ctx, conn)

	for {
		var msg inboundMessage
		if err := socket.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				entry.WithError(err).Warn("read error")
			}
			return
		}
		socket.SetReadDeadline(time.Now().Add(readWait))

		h.handleMessage(ctx, userID, &msg)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *realtime.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

// disconnect releases the session; presence only changes when this session
// was still the user's registered one.
func (h *Handler) disconnect(conn *realtime.Conn) {
	userID := conn.UserID()
	if h.registry.UnregisterSession(userID, conn.ID()) {
		if h.presence.MarkOffline(userID) {
			h.broadcaster.PublishPresenceToOnline()
		}
		go h.touchLastSeen(userID)
	}
	conn.Close()
	h.metrics.SessionClosed()
}

func (h *Handler) touchLastSeen(userID string) {
	if h.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lastSeenWait)
	defer cancel()
	if err := h.users.UpdateLastSeen(ctx, userID, time.Now().UTC()); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("update last seen failed")
	}
}

func (h *Handler) handleMessage(ctx context.Context, userID string, msg *inboundMessage) {
	switch msg.Type {
	case TypeSendMessage:
		var req chatService.SendRequest
		if !h.decode(userID, msg, &req) {
			return
		}
		req.SenderID = userID
		if _, err := h.chatSvc.Send(ctx, req); err != nil {
			h.sendError(userID, err)
		}

	case TypeTypingStart, TypeTypingStop:
		var payload typingPayload
		if !h.decode(userID, msg, &payload) {
			return
		}
		h.chatSvc.Typing(payload.ChatID, userID, payload.Members, msg.Type == TypeTypingStart)

	case TypePresenceJoin, TypePresenceLeave:
		var payload presencePayload
		if !h.decode(userID, msg, &payload) {
			return
		}
		if payload.UserID != "" && payload.UserID != userID {
			h.sendError(userID, chatService.ErrInvalidMessage)
			return
		}
		if msg.Type == TypePresenceJoin {
			h.presence.MarkOnline(userID)
		} else {
			h.presence.MarkOffline(userID)
		}
		members := payload.Members
		if len(members) == 0 {
			members = h.presence.AllOnline()
		}
		h.broadcaster.PublishPresence(members)

	case TypeReactionAdd, TypeReactionRemove:
		var payload reactionPayload
		if !h.decode(userID, msg, &payload) {
			return
		}
		reaction := chat.Reaction{UserID: userID, Emoji: payload.Emoji}
		var err error
		if msg.Type == TypeReactionAdd {
			_, err = h.chatSvc.React(ctx, payload.MessageID, reaction, payload.Members)
		} else {
			_, err = h.chatSvc.Unreact(ctx, payload.MessageID, reaction, payload.Members)
		}
		if err != nil {
			h.sendError(userID, err)
		}

	case TypeChatListRefresh:
		var payload refreshPayload
		if !h.decode(userID, msg, &payload) {
			return
		}
		h.chatSvc.RefreshChatList(payload.Members)

	default:
		h.broadcaster.SendTo(userID, realtime.EventError, realtime.ErrorPayload{
			Message: "unknown message type: " + msg.Type,
			Code:    chatService.CodeInvalid,
		})
	}
}

func (h *Handler) decode(userID string, msg *inboundMessage, v any) bool {
	if len(msg.Data) == 0 {
		msg.Data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		h.broadcaster.SendTo(userID, realtime.EventError, realtime.ErrorPayload{
			Message: "invalid " + msg.Type + " payload",
			Code:    chatService.CodeInvalid,
		})
		return false
	}
	return true
}

func (h *Handler) sendError(userID string, err error) {
	code := chatService.ErrorCode(err)
	message := err.Error()
	if code == chatService.CodeInternal {
		log.WithError(err).WithField("user_id", userID).Error("websocket request failed")
		message = "internal error"
	}
	h.broadcaster.SendTo(userID, realtime.EventError, realtime.ErrorPayload{Message: message, Code: code})
}
