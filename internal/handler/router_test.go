package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/tavern-chat/backend/internal/metrics"
	personaModel "github.com/zhouzirui/tavern-chat/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chat/backend/internal/realtime"
	chatService "github.com/zhouzirui/tavern-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/stats"
	"github.com/zhouzirui/tavern-chat/backend/internal/store/memory"
)

func newTestRouter() http.Handler {
	st := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	registry := realtime.NewRegistry()
	presence := realtime.NewPresence()
	broadcaster := realtime.NewBroadcaster(registry, presence, m)

	return NewRouter(Deps{
		Personas:        personaModel.NewMemoryStore(personaModel.Seed()),
		ActivePersonaID: "barkeep",
		Chat:            chatService.NewService(st, st, st, broadcaster),
		Registry:        registry,
		Presence:        presence,
		Broadcaster:     broadcaster,
		Users:           st,
		Stats:           stats.NewAggregator(stats.Options{}),
		Metrics:         m,
		Gatherer:        reg,
	})
}

func TestRouterServesOperationalRoutes(t *testing.T) {
	r := newTestRouter()

	for _, path := range []string{"/healthz", "/metrics", "/api/personas", "/api/admin/stats", "/api/presence"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
	}
}

func TestRouterMetricsExposeCollectors(t *testing.T) {
	r := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(resp.Body.String(), "tavern_websocket_connections_active") {
		t.Fatalf("expected tavern collectors in metrics output")
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	r := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodOptions, "/api/chats/x/messages", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}
