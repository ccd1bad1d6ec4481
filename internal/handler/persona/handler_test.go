package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/persona"
)

func TestPersonaRoutes(t *testing.T) {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed()), "bard").RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/personas", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []persona.Persona
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != len(persona.Seed()) {
		t.Fatalf("expected %d personas, got %d", len(persona.Seed()), len(list))
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/personas/active", nil))
	var active persona.Persona
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if active.ID != "bard" || len(active.FallbackLines) != 0 {
		t.Fatalf("unexpected active persona: %+v", active)
	}
}

func TestActivePersonaMissing(t *testing.T) {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed()), "ghost").RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/personas/active", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
