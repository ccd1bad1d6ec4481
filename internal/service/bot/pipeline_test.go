package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chat/backend/internal/realtime"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/tavern-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/stats"
	"github.com/zhouzirui/tavern-chat/backend/internal/store/memory"
)

const botID = "bot"

// timeline records published events and pipeline sleeps in one sequence.
type timeline struct {
	mu      sync.Mutex
	entries []string
}

func (tl *timeline) add(entry string) {
	tl.mu.Lock()
	tl.entries = append(tl.entries, entry)
	tl.mu.Unlock()
}

func (tl *timeline) snapshot() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.entries...)
}

func (tl *timeline) Publish(event string, _ []string, payload any) {
	if p, ok := payload.(chatservice.NewMessagePayload); ok {
		tl.add(event + ":" + p.Message.Sender.ID + ":" + p.Message.Content)
		return
	}
	tl.add(event)
}

type fakeGenerator struct {
	mu       sync.Mutex
	replies  []string
	tokens   int
	err      error
	requests []ai.Request
}

func (g *fakeGenerator) CompleteChat(_ context.Context, req ai.Request) (*ai.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	text := "ok"
	if len(g.replies) > 0 {
		text = g.replies[0]
		g.replies = g.replies[1:]
	}
	return &ai.Completion{Text: text, TokensUsed: g.tokens}, nil
}

func (g *fakeGenerator) calls() []ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ai.Request(nil), g.requests...)
}

type fakeMedia struct {
	mu       sync.Mutex
	searched []string
	fail     bool
}

func (m *fakeMedia) Search(_ context.Context, term string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searched = append(m.searched, term)
	if m.fail {
		return "", errors.New("provider down")
	}
	return "https://media.giphy.com/media/" + strings.ReplaceAll(term, " ", "") + "/giphy.gif", nil
}

func (m *fakeMedia) DescribeOrPlaceholder(_ context.Context, rawURL string) string {
	return "[sent a GIF: dancing cat]"
}

type fixture struct {
	store     *memory.Store
	chat      chat.Chat
	service   *chatservice.Service
	timeline  *timeline
	generator *fakeGenerator
	media     *fakeMedia
	stats     *stats.Aggregator
	pipeline  *Pipeline
}

func newFixture(t *testing.T, members ...string) *fixture {
	t.Helper()
	if len(members) == 0 {
		members = []string{"alice", botID}
	}
	st := memory.New()
	st.PutUser(chat.User{ID: "alice", Name: "Alice"})
	st.PutUser(chat.User{ID: "bob", Name: "Bob"})
	st.PutUser(chat.User{ID: botID, Name: "Tavi"})
	c, err := st.CreateChat(context.Background(), "", members)
	if err != nil {
		t.Fatalf("CreateChat err: %v", err)
	}

	tl := &timeline{}
	svc := chatservice.NewService(st, st, st, tl)
	gen := &fakeGenerator{}
	med := &fakeMedia{}
	agg := stats.NewAggregator(stats.Options{})

	p := NewPipeline(PipelineConfig{
		BotUserID:   botID,
		Persona:     persona.Seed()[0],
		TypingPulse: 700 * time.Millisecond,
	}, Deps{
		Messages:  st,
		Chats:     st,
		Users:     st,
		Generator: gen,
		Media:     med,
		Sender:    svc,
		Usage:     agg,
	})
	p.jitter = func(int64) int64 { return 0 }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		tl.add(fmt.Sprintf("sleep:%s", d))
		return ctx.Err()
	}

	return &fixture{store: st, chat: c, service: svc, timeline: tl, generator: gen, media: med, stats: agg, pipeline: p}
}

// say persists a user message the way the HTTP path does.
func (f *fixture) say(t *testing.T, userID, content string) BufferedMessage {
	t.Helper()
	view, err := f.service.Send(context.Background(), chatservice.SendRequest{ChatID: f.chat.ID, SenderID: userID, Content: content})
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	return BufferedMessage{MessageID: view.ID, UserID: userID, Content: content}
}

func (f *fixture) botMessages(t *testing.T) []chat.Message {
	t.Helper()
	recent, err := f.store.RecentMessages(context.Background(), f.chat.ID, 100)
	if err != nil {
		t.Fatalf("RecentMessages err: %v", err)
	}
	var out []chat.Message
	for _, m := range recent {
		if m.SenderID == botID {
			out = append(out, m)
		}
	}
	return out
}

func TestBufferedMessagesProduceMultiBubbleReply(t *testing.T) {
	f := newFixture(t)
	f.generator.replies = []string{"yo|||nice"}

	done := make(chan struct{}, 1)
	engine := NewEngine(flatPolicy(150*time.Millisecond), func(ctx context.Context, b Batch) {
		f.pipeline.Handle(ctx, b)
		done <- struct{}{}
	}, nil)
	defer engine.Stop()

	engine.EnqueueMessage(f.chat.ID, f.say(t, "alice", "hey tavi"))
	time.Sleep(40 * time.Millisecond)
	engine.EnqueueMessage(f.chat.ID, f.say(t, "alice", "you around?"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline did not run")
	}

	calls := f.generator.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one generation, got %d", len(calls))
	}
	if calls[0].Query != "Alice: hey tavi\nAlice: you around?" {
		t.Fatalf("unexpected combined turn: %q", calls[0].Query)
	}
	if len(calls[0].History) != 0 {
		t.Fatalf("expected buffered messages to stay out of the history, got %d", len(calls[0].History))
	}

	bot := f.botMessages(t)
	if len(bot) != 2 || bot[0].Content != "yo" || bot[1].Content != "nice" || bot[0].ReplyTo != "" {
		t.Fatalf("unexpected bot messages: %+v", bot)
	}

	// entries published before the pipeline ran belong to alice
	got := f.timeline.snapshot()[4:]
	want := []string{
		realtime.EventTypingStart,
		"sleep:825ms",
		realtime.EventTypingStop,
		realtime.EventNewMessage + ":bot:yo",
		realtime.EventMessageAlert,
		realtime.EventTypingStart,
		"sleep:700ms",
		realtime.EventTypingStop,
		realtime.EventNewMessage + ":bot:nice",
		realtime.EventMessageAlert,
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected timeline:\n%s", strings.Join(got, "\n"))
	}

	snap := f.stats.Snapshot()
	if snap.TotalMessages != 1 || snap.TotalTokens <= 0 || snap.Log[0].UserName != "Alice" {
		t.Fatalf("unexpected usage snapshot: %+v", snap)
	}
}

func TestPipelineSendsGIFBeforeText(t *testing.T) {
	f := newFixture(t)
	f.generator.replies = []string{"lol [GIF: dancing cat]|||[gif: wow]"}

	if err := f.pipeline.Run(context.Background(), Batch{ChatID: f.chat.ID, UserID: "alice", Messages: []BufferedMessage{f.say(t, "alice", "look")}}); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	bot := f.botMessages(t)
	if len(bot) != 3 {
		t.Fatalf("expected gif, text, gif; got %+v", bot)
	}
	if len(bot[0].Attachments) != 1 || bot[0].Attachments[0].Type != "gif" || !strings.Contains(bot[0].Content, "dancingcat") {
		t.Fatalf("expected the gif first, got %+v", bot[0])
	}
	if bot[1].Content != "lol" {
		t.Fatalf("expected stripped text second, got %q", bot[1].Content)
	}
	if !strings.Contains(bot[2].Content, "wow") {
		t.Fatalf("expected gif-only bubble, got %+v", bot[2])
	}
}

func TestPipelineKeepsTextWhenGIFSearchFails(t *testing.T) {
	f := newFixture(t)
	f.media.fail = true
	f.generator.replies = []string{"nice one [GIF: applause]"}

	if err := f.pipeline.Run(context.Background(), Batch{ChatID: f.chat.ID, UserID: "alice", Messages: []BufferedMessage{f.say(t, "alice", "i won")}}); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	bot := f.botMessages(t)
	if len(bot) != 1 || bot[0].Content != "nice one" {
		t.Fatalf("unexpected bot messages: %+v", bot)
	}
}

func TestPipelineContextWindow(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		sender := "alice"
		if i%2 == 1 {
			sender = botID
		}
		f.say(t, sender, fmt.Sprintf("old %d", i))
	}
	f.say(t, "alice", "https://media.giphy.com/media/abc123/giphy.gif")
	f.generator.tokens = 77

	if err := f.pipeline.Run(context.Background(), Batch{ChatID: f.chat.ID, UserID: "alice", Messages: []BufferedMessage{f.say(t, "alice", "so?")}}); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	history := f.generator.calls()[0].History
	if len(history) != DefaultContextWindow {
		t.Fatalf("expected %d history messages, got %d", DefaultContextWindow, len(history))
	}
	if history[0].Content != "Alice: old 6" || history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected oldest entry: %s %q", history[0].Role, history[0].Content)
	}
	last := history[len(history)-1]
	if last.Content != "Alice: [sent a GIF: dancing cat]" || last.Role != "user" {
		t.Fatalf("expected described gif as newest entry, got %s %q", last.Role, last.Content)
	}

	if got := f.stats.Snapshot().TotalTokens; got != 77 {
		t.Fatalf("expected reported tokens to win over the estimate, got %d", got)
	}
}

func TestPipelineAbortsWhenBotCannotAnswer(t *testing.T) {
	withoutBot := newFixture(t, "alice", "bob")
	err := withoutBot.pipeline.Run(context.Background(), Batch{ChatID: withoutBot.chat.ID, UserID: "alice", Messages: []BufferedMessage{{UserID: "alice", Content: "hi"}}})
	if !errors.Is(err, ErrBotNotMember) {
		t.Fatalf("expected ErrBotNotMember, got %v", err)
	}
	if len(withoutBot.generator.calls()) != 0 {
		t.Fatalf("expected no generation for a chat without the bot")
	}

	missingChat := newFixture(t)
	err = missingChat.pipeline.Run(context.Background(), Batch{ChatID: "gone", UserID: "alice"})
	if !errors.Is(err, chatservice.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}

	missingBot := newFixture(t)
	missingBot.pipeline.cfg.BotUserID = "ghost"
	err = missingBot.pipeline.Run(context.Background(), Batch{ChatID: missingBot.chat.ID, UserID: "alice"})
	if !errors.Is(err, ErrBotMissing) {
		t.Fatalf("expected ErrBotMissing, got %v", err)
	}
}

func TestPipelineProviderFailureIsSilentByDefault(t *testing.T) {
	f := newFixture(t)
	f.generator.err = fmt.Errorf("wrapped: %w", ai.ErrProviderExhausted)
	batch := Batch{ChatID: f.chat.ID, UserID: "alice", Messages: []BufferedMessage{f.say(t, "alice", "hello?")}}

	f.pipeline.Handle(context.Background(), batch)
	if bot := f.botMessages(t); len(bot) != 0 {
		t.Fatalf("expected no bot message, got %+v", bot)
	}
	if snap := f.stats.Snapshot(); snap.TotalMessages != 0 {
		t.Fatalf("expected no usage for a failed run, got %+v", snap)
	}

	f.pipeline.cfg.FallbackEnabled = true
	f.pipeline.Handle(context.Background(), batch)
	bot := f.botMessages(t)
	if len(bot) != 1 || bot[0].Content != f.pipeline.cfg.Persona.FallbackLines[0] {
		t.Fatalf("expected the fallback line, got %+v", bot)
	}
}

func TestPipelineStopsAfterCancellation(t *testing.T) {
	f := newFixture(t)
	f.generator.replies = []string{"one|||two"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.pipeline.Run(ctx, Batch{ChatID: f.chat.ID, UserID: "alice", Messages: []BufferedMessage{f.say(t, "alice", "hey")}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if bot := f.botMessages(t); len(bot) != 0 {
		t.Fatalf("expected nothing sent after cancellation, got %+v", bot)
	}
}

func TestDelayPolicyScalesAndCaps(t *testing.T) {
	policy := DefaultDelayPolicy()
	noJitter := func(int64) int64 { return 0 }

	short := policy.For("hi", noJitter)
	longer := policy.For(strings.Repeat("x", 40), noJitter)
	capped := policy.For(strings.Repeat("x", 1000), noJitter)

	if short != 650*time.Millisecond || longer <= short {
		t.Fatalf("unexpected delays short=%s longer=%s", short, longer)
	}
	if capped != policy.Max {
		t.Fatalf("expected cap %s, got %s", policy.Max, capped)
	}
	if got := policy.For("", func(n int64) int64 { return n - 1 }); got >= policy.BaseMax {
		t.Fatalf("jitter must stay below BaseMax, got %s", got)
	}
}
