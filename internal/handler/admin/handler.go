// Package admin exposes read-only operational views: usage stats and presence.
package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-chat/backend/internal/service/stats"
	"github.com/zhouzirui/tavern-chat/backend/pkg/utils"
)

// OnlineLister reports who is online; realtime.Presence implements it.
type OnlineLister interface {
	AllOnline() []string
}

// Handler 运营数据的HTTP处理器
type Handler struct {
	stats    *stats.Aggregator
	presence OnlineLister
}

// New 创建运营数据处理器
func New(aggregator *stats.Aggregator, presence OnlineLister) *Handler {
	return &Handler{stats: aggregator, presence: presence}
}

// RegisterRoutes 注册统计与在线状态路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/stats", h.handleSnapshot)
	r.Get("/admin/stats/users/{userID}", h.handleUserStats)
	r.Get("/presence", h.handlePresence)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.stats.Snapshot())
}

func (h *Handler) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	totals, ok := h.stats.User(userID)
	if !ok {
		utils.RespondErrorCode(w, http.StatusNotFound, "no usage recorded for user", "not_found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"stats": totals,
		"log":   h.stats.UserLog(userID),
	})
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"online": h.presence.AllOnline()})
}
