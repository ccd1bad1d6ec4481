package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-chat/backend/internal/realtime"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/stats"
)

func setupRouter() (*chi.Mux, *stats.Aggregator, *realtime.Presence) {
	aggregator := stats.NewAggregator(stats.Options{})
	presence := realtime.NewPresence()
	r := chi.NewRouter()
	New(aggregator, presence).RegisterRoutes(r)
	return r, aggregator, presence
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp
}

func TestSnapshotRoute(t *testing.T) {
	r, aggregator, _ := setupRouter()
	aggregator.Record("alice", "Alice", "hi", "hello", 12)

	resp := get(r, "/admin/stats")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var snap stats.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TotalMessages != 1 || snap.TotalTokens != 12 || len(snap.Log) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestUserStatsRoute(t *testing.T) {
	r, aggregator, _ := setupRouter()
	aggregator.Record("alice", "Alice", "hi", "hello", 12)
	aggregator.Record("bob", "Bob", "yo", "hey", 3)

	resp := get(r, "/admin/stats/users/alice")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Stats stats.UserStats `json:"stats"`
		Log   []stats.Entry   `json:"log"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.Tokens != 12 || len(body.Log) != 1 || body.Log[0].UserID != "alice" {
		t.Fatalf("unexpected body: %+v", body)
	}

	if resp := get(r, "/admin/stats/users/carol"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPresenceRoute(t *testing.T) {
	r, _, presence := setupRouter()
	presence.MarkOnline("bob")
	presence.MarkOnline("alice")

	resp := get(r, "/presence")
	var body struct {
		Online []string `json:"online"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Online) != 2 || body.Online[0] != "alice" {
		t.Fatalf("unexpected online list: %v", body.Online)
	}
}
