package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/tavern-chat/backend/internal/handler/admin"
	"github.com/zhouzirui/tavern-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/handler/persona"
	"github.com/zhouzirui/tavern-chat/backend/internal/handler/ws"
	"github.com/zhouzirui/tavern-chat/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/tavern-chat/backend/internal/middleware"
	personaModel "github.com/zhouzirui/tavern-chat/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chat/backend/internal/realtime"
	chatService "github.com/zhouzirui/tavern-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/stats"
	"github.com/zhouzirui/tavern-chat/backend/internal/store"
	"github.com/zhouzirui/tavern-chat/backend/pkg/utils"
)

// Deps collects what the HTTP surface needs. Bot may be nil when the bot is disabled.
type Deps struct {
	Personas        personaModel.Store
	ActivePersonaID string
	Chat            *chatService.Service
	Bot             chat.BotQueue
	BotUserID       string
	Registry        *realtime.Registry
	Presence        *realtime.Presence
	Broadcaster     *realtime.Broadcaster
	Users           store.UserStore
	Stats           *stats.Aggregator
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": deps.Registry.Count(),
		})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	ws.New(deps.Registry, deps.Presence, deps.Broadcaster, deps.Chat, deps.Users, deps.Metrics).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas, deps.ActivePersonaID).RegisterRoutes(api)
		chat.New(deps.Chat, deps.Bot, deps.BotUserID).RegisterRoutes(api)
		admin.New(deps.Stats, deps.Presence).RegisterRoutes(api)
	})

	return r
}
