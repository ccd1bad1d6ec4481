package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ARK_API_KEYS", "ARK_API_KEY", "Model", "ARK_MODEL", "BOT_USER_ID", "STATS_TIMEZONE", "AI_MAX_ATTEMPTS", "MONGODB_URI", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.AI.MaxAttempts != 2 || cfg.AI.Enabled() {
		t.Fatalf("unexpected ai config: %+v", cfg.AI)
	}
	if cfg.Bot.ContextWindow != 15 || cfg.Bot.FallbackEnabled || cfg.Bot.DefaultWait != 1500*time.Millisecond {
		t.Fatalf("unexpected bot config: %+v", cfg.Bot)
	}
	if cfg.Stats.Location != time.UTC || cfg.Stats.LogCapacity != 100 {
		t.Fatalf("unexpected stats config: %+v", cfg.Stats)
	}
	if cfg.Storage.MongoURI != "" || cfg.Relay.RedisURL != "" {
		t.Fatalf("expected optional backends off by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("ARK_API_KEYS", "key-a, key-b,,")
	t.Setenv("Model", "doubao-lite")
	t.Setenv("AI_TIMEOUT_SECONDS", "20")
	t.Setenv("BOT_TYPING_PULSE_MS", "500")
	t.Setenv("BOT_FALLBACK_ENABLED", "true")
	t.Setenv("STATS_TIMEZONE", "Asia/Shanghai")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if len(cfg.AI.APIKeys) != 2 || cfg.AI.APIKeys[1] != "key-b" || !cfg.AI.Enabled() {
		t.Fatalf("unexpected keys: %+v", cfg.AI.APIKeys)
	}
	if cfg.AI.Timeout != 20*time.Second || cfg.Bot.TypingPulse != 500*time.Millisecond || !cfg.Bot.FallbackEnabled {
		t.Fatalf("unexpected overrides: ai=%+v bot=%+v", cfg.AI, cfg.Bot)
	}
	if cfg.Stats.Location.String() != "Asia/Shanghai" {
		t.Fatalf("unexpected zone: %s", cfg.Stats.Location)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                  "80 80",
		"AI_MAX_ATTEMPTS":       "many",
		"BOT_FALLBACK_ENABLED":  "sometimes",
		"BOT_DEBOUNCE_SHORT_MS": "100",
		"STATS_TIMEZONE":        "Mars/Olympus",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected an error for %s=%q", key, value)
			}
		})
	}
}
