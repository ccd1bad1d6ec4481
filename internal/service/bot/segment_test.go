package bot

import "testing"

func TestParseResponseDropsTrailingEmptySegment(t *testing.T) {
	got := ParseResponse("hey!|||how are you|||", "Tavi")
	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(got), got)
	}
	if got[0].Text != "hey!" || got[1].Text != "how are you" {
		t.Fatalf("unexpected segments: %+v", got)
	}
}

func TestParseResponseExtractsGIFDirective(t *testing.T) {
	got := ParseResponse("lol [GIF: dancing cat] same |||[gif:  thumbs up ]", "Tavi")
	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %+v", got)
	}
	if got[0].GIFTerm != "dancing cat" || got[0].Text != "lol same" {
		t.Fatalf("unexpected first segment: %+v", got[0])
	}
	if got[1].GIFTerm != "thumbs up" || got[1].Text != "" {
		t.Fatalf("unexpected gif-only segment: %+v", got[1])
	}
}

func TestParseResponseSkipsEmptyDirective(t *testing.T) {
	got := ParseResponse("[GIF: ]|||ok", "Tavi")
	if len(got) != 1 || got[0].Text != "ok" {
		t.Fatalf("unexpected segments: %+v", got)
	}
}

func TestStripNamePrefix(t *testing.T) {
	cases := map[string]string{
		"Tavi: hey there":   "hey there",
		"tavi : hey":        "hey",
		"**Tavi**: cheers":  "cheers",
		"[Tavi]: sure":      "sure",
		"Tavi：你好":           "你好",
		"Tavish: not me":    "Tavish: not me",
		"hey Tavi: careful": "hey Tavi: careful",
	}
	for in, want := range cases {
		if got := StripNamePrefix(in, "Tavi"); got != want {
			t.Fatalf("StripNamePrefix(%q) = %q, want %q", in, got, want)
		}
	}
	if got := StripNamePrefix("  hi ", ""); got != "hi" {
		t.Fatalf("expected trim without a name, got %q", got)
	}
}

func TestParseResponseStripsPrefixPerSegment(t *testing.T) {
	got := ParseResponse("Tavi: first|||Tavi: second", "Tavi")
	if len(got) != 2 || got[0].Text != "first" || got[1].Text != "second" {
		t.Fatalf("unexpected segments: %+v", got)
	}
}
