package persona

import "testing"

func TestSeedPersonasHaveFallbackLines(t *testing.T) {
	for _, p := range Seed() {
		if p.ID == "" || p.Name == "" {
			t.Fatalf("persona missing identity: %+v", p)
		}
		if len(p.FallbackLines) == 0 {
			t.Fatalf("persona %s has no fallback lines", p.ID)
		}
	}
}

func TestMemoryStoreDefault(t *testing.T) {
	store := NewMemoryStore(Seed())

	if got := store.Default("bard"); got.ID != "bard" {
		t.Fatalf("expected bard, got %s", got.ID)
	}
	if got := store.Default("missing"); got.ID != "barkeep" {
		t.Fatalf("expected first persona as fallback, got %s", got.ID)
	}
	if got := NewMemoryStore(nil).Default("x"); got.Name == "" {
		t.Fatalf("expected placeholder persona, got %+v", got)
	}
}
