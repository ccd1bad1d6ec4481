package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/bot"
	chatService "github.com/zhouzirui/tavern-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/backend/pkg/utils"
)

var log = logrus.WithField("component", "http.chat")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// BotQueue buffers messages for the bot; bot.Engine implements it.
type BotQueue interface {
	EnqueueMessage(chatID string, msg bot.BufferedMessage) bool
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc   *chatService.Service
	bot       BotQueue
	botUserID string
}

// New 创建聊天处理器。bot 为 nil 时不会触发机器人回复。
func New(chatSvc *chatService.Service, queue BotQueue, botUserID string) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		bot:       queue,
		botUserID: botUserID,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chats/{chatID}/messages", func(r chi.Router) {
		r.Post("/", h.handleSendMessage)
		r.Get("/", h.handleHistory)
	})
	r.Post("/messages/{messageID}/reactions", h.handleReaction(true))
	r.Delete("/messages/{messageID}/reactions", h.handleReaction(false))
}

// handleSendMessage 保存并广播消息，机器人所在的会话会进入消息缓冲
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload chatService.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondErrorCode(w, http.StatusBadRequest, "invalid request body", chatService.CodeInvalid)
		return
	}
	payload.ChatID = chi.URLParam(r, "chatID")

	view, err := h.chatSvc.Send(r.Context(), payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.notifyBot(r, view)
	utils.RespondJSON(w, http.StatusCreated, view)
}

func (h *Handler) notifyBot(r *http.Request, view *chat.MessageView) {
	if h.bot == nil || h.botUserID == "" || view.Sender.ID == h.botUserID {
		return
	}
	conversation, err := h.chatSvc.FindChat(r.Context(), view.ChatID)
	if err != nil || !conversation.HasMember(h.botUserID) {
		return
	}

	if !h.bot.EnqueueMessage(view.ChatID, bot.BufferedMessage{
		MessageID: view.ID,
		UserID:    view.Sender.ID,
		Content:   view.Content,
		At:        view.CreatedAt,
	}) {
		log.WithField("chat_id", view.ChatID).Warn("bot queue closed, message not buffered")
	}
}

// handleHistory 返回最近的消息
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			utils.RespondErrorCode(w, http.StatusBadRequest, "limit must be a positive integer", chatService.CodeInvalid)
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	history, err := h.chatSvc.History(r.Context(), chi.URLParam(r, "chatID"), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, history)
}

// handleReaction 添加或移除表情回应
func (h *Handler) handleReaction(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			UserID  string   `json:"userId"`
			Emoji   string   `json:"emoji"`
			Members []string `json:"members"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondErrorCode(w, http.StatusBadRequest, "invalid request body", chatService.CodeInvalid)
			return
		}

		reaction := chat.Reaction{UserID: payload.UserID, Emoji: payload.Emoji}
		messageID := chi.URLParam(r, "messageID")

		var (
			msg *chat.Message
			err error
		)
		if add {
			msg, err = h.chatSvc.React(r.Context(), messageID, reaction, payload.Members)
		} else {
			msg, err = h.chatSvc.Unreact(r.Context(), messageID, reaction, payload.Members)
		}
		if err != nil {
			respondServiceError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{"messageId": msg.ID, "reactions": msg.Reactions})
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	code := chatService.ErrorCode(err)
	status := http.StatusInternalServerError
	message := "internal error"
	switch code {
	case chatService.CodeInvalid:
		status, message = http.StatusBadRequest, err.Error()
	case chatService.CodeForbidden:
		status, message = http.StatusForbidden, err.Error()
	case chatService.CodeNotFound:
		status, message = http.StatusNotFound, err.Error()
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	utils.RespondErrorCode(w, status, message, code)
}
