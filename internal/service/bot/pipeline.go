package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/metrics"
	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/tavern-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/media"
	"github.com/zhouzirui/tavern-chat/backend/internal/store"
)

// CharsPerToken estimates tokens when the provider reports no usage.
const CharsPerToken = 4

// DefaultContextWindow is how many recent messages the model sees.
const DefaultContextWindow = 15

var (
	// ErrBotMissing means the configured bot user does not exist.
	ErrBotMissing = errors.New("bot: bot user not found")
	// ErrBotNotMember means the bot is not in the chat.
	ErrBotNotMember = errors.New("bot: bot is not a chat member")
	// ErrEmptyReply means the model answered with nothing to send.
	ErrEmptyReply = errors.New("bot: empty reply")
)

// Generator produces completions; ai.Client implements it.
type Generator interface {
	CompleteChat(ctx context.Context, req ai.Request) (*ai.Completion, error)
}

// MediaProvider searches and describes GIFs; media.Client implements it.
type MediaProvider interface {
	Search(ctx context.Context, term string) (string, error)
	DescribeOrPlaceholder(ctx context.Context, rawURL string) string
}

// Sender persists and broadcasts bot messages; chat.Service implements it.
type Sender interface {
	Send(ctx context.Context, req chatservice.SendRequest) (*chat.MessageView, error)
	Typing(chatID, userID string, members []string, started bool)
}

// UsageRecorder receives one record per answered batch.
type UsageRecorder interface {
	Record(userID, userName, userMessage, botResponse string, tokensUsed int)
}

// DelayPolicy shapes the pause before the first bubble: a random base plus
// a per-rune share of the whole reply, capped.
type DelayPolicy struct {
	BaseMin time.Duration
	BaseMax time.Duration
	PerRune time.Duration
	Max     time.Duration
}

// DefaultDelayPolicy returns the production response delay.
func DefaultDelayPolicy() DelayPolicy {
	return DelayPolicy{
		BaseMin: 600 * time.Millisecond,
		BaseMax: 1400 * time.Millisecond,
		PerRune: 25 * time.Millisecond,
		Max:     4 * time.Second,
	}
}

// For returns the delay for a reply; jitter(n) returns a value in [0, n).
func (d DelayPolicy) For(reply string, jitter func(n int64) int64) time.Duration {
	delay := d.BaseMin
	if spread := int64(d.BaseMax - d.BaseMin); spread > 0 {
		delay += time.Duration(jitter(spread))
	}
	delay += time.Duration(utf8.RuneCountInString(reply)) * d.PerRune
	if d.Max > 0 && delay > d.Max {
		delay = d.Max
	}
	return delay
}

// PipelineConfig holds the bot's identity and pacing.
type PipelineConfig struct {
	BotUserID       string
	Persona         persona.Persona
	ContextWindow   int
	TypingPulse     time.Duration
	Delay           DelayPolicy
	FallbackEnabled bool
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Messages  store.MessageStore
	Chats     store.ChatStore
	Users     store.UserStore
	Generator Generator
	Media     MediaProvider
	Sender    Sender
	Usage     UsageRecorder
	Metrics   *metrics.Metrics
}

// Pipeline turns a drained batch into persisted and broadcast bot messages.
// Bubbles already sent stay sent when a later one fails.
type Pipeline struct {
	cfg     PipelineConfig
	deps    Deps
	prompts *ai.PersonaPromptManager

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
	now    func() time.Time
}

// NewPipeline wires a pipeline.
func NewPipeline(cfg PipelineConfig, deps Deps) *Pipeline {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.Delay == (DelayPolicy{}) {
		cfg.Delay = DefaultDelayPolicy()
	}
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		prompts: ai.NewPersonaPromptManager(),
		sleep:   sleepContext,
		jitter:  rand.Int63n,
		now:     time.Now,
	}
}

// Handle runs the pipeline and swallows its failure after logging it. It
// is the engine's HandlerFunc.
func (p *Pipeline) Handle(ctx context.Context, batch Batch) {
	start := p.now()
	entry := log.WithFields(logrus.Fields{
		"chat_id":  batch.ChatID,
		"user_id":  batch.UserID,
		"messages": len(batch.Messages),
	})

	err := p.Run(ctx, batch)
	outcome := outcomeOf(err)
	p.deps.Metrics.BotRun(outcome, p.now().Sub(start))

	switch outcome {
	case "ok":
		entry.Debug("bot replied")
	case "aborted":
		entry.WithError(err).Info("bot run skipped")
	default:
		entry.WithError(err).Error("bot run failed")
		if p.cfg.FallbackEnabled && ctx.Err() == nil {
			p.sendFallback(ctx, batch.ChatID)
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, chatservice.ErrChatNotFound),
		errors.Is(err, ErrBotMissing),
		errors.Is(err, ErrBotNotMember),
		errors.Is(err, ErrEmptyReply),
		errors.Is(err, context.Canceled):
		return "aborted"
	default:
		return "failed"
	}
}

// Run executes the pipeline and returns the first error.
func (p *Pipeline) Run(ctx context.Context, batch Batch) error {
	conversation, err := p.deps.Chats.FindChat(ctx, batch.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return chatservice.ErrChatNotFound
	}
	if err != nil {
		return fmt.Errorf("find chat: %w", err)
	}
	botUser, err := p.deps.Users.FindUser(ctx, p.cfg.BotUserID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrBotMissing
	}
	if err != nil {
		return fmt.Errorf("find bot: %w", err)
	}
	if !conversation.HasMember(botUser.ID) {
		return ErrBotNotMember
	}

	names := newNameCache(p.deps.Users)
	history, err := p.contextWindow(ctx, batch, names)
	if err != nil {
		return err
	}

	req := ai.Request{
		System:  p.prompts.BuildSystemPrompt(p.cfg.Persona),
		History: history,
		Query:   p.combinedTurn(ctx, batch, names),
	}

	completion, err := p.deps.Generator.CompleteChat(ctx, req)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	segments := ParseResponse(completion.Text, p.botName(botUser))
	if len(segments) == 0 {
		return fmt.Errorf("%w: %q", ErrEmptyReply, completion.Text)
	}

	wait := p.cfg.Delay.For(completion.Text, p.jitter)
	for _, seg := range segments {
		if err := p.emit(ctx, conversation, seg, wait); err != nil {
			return err
		}
		wait = p.cfg.TypingPulse
	}

	tokens := completion.TokensUsed
	if tokens <= 0 {
		tokens = (req.PromptChars() + utf8.RuneCountInString(completion.Text)) / CharsPerToken
	}
	if p.deps.Usage != nil {
		p.deps.Usage.Record(batch.UserID, names.get(ctx, batch.UserID), strings.Join(batch.Contents(), "\n"), completion.Text, tokens)
	}
	return nil
}

// contextWindow loads the newest messages oldest first, leaving out the
// batch itself since it becomes the combined turn.
func (p *Pipeline) contextWindow(ctx context.Context, batch Batch, names *nameCache) ([]*schema.Message, error) {
	inBatch := make(map[string]struct{}, len(batch.Messages))
	for _, m := range batch.Messages {
		if m.MessageID != "" {
			inBatch[m.MessageID] = struct{}{}
		}
	}

	recent, err := p.deps.Messages.RecentMessages(ctx, batch.ChatID, p.cfg.ContextWindow+len(inBatch))
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	kept := make([]chat.Message, 0, len(recent))
	for _, msg := range recent {
		if _, skip := inBatch[msg.ID]; !skip {
			kept = append(kept, msg)
		}
	}
	if len(kept) > p.cfg.ContextWindow {
		kept = kept[len(kept)-p.cfg.ContextWindow:]
	}

	history := make([]*schema.Message, 0, len(kept))
	for _, msg := range kept {
		content := p.describe(ctx, msg.Content)
		if content == "" && len(msg.Attachments) > 0 {
			content = p.describe(ctx, msg.Attachments[0].URL)
		}
		if content == "" {
			continue
		}
		label := names.get(ctx, msg.SenderID) + ": " + content
		if msg.SenderID == p.cfg.BotUserID {
			history = append(history, schema.AssistantMessage(label, nil))
		} else {
			history = append(history, schema.UserMessage(label))
		}
	}
	return history, nil
}

func (p *Pipeline) combinedTurn(ctx context.Context, batch Batch, names *nameCache) string {
	lines := make([]string, 0, len(batch.Messages))
	for _, m := range batch.Messages {
		content := p.describe(ctx, m.Content)
		if content == "" {
			continue
		}
		lines = append(lines, names.get(ctx, m.UserID)+": "+content)
	}
	return strings.Join(lines, "\n")
}

// describe swaps a GIF link for its description.
func (p *Pipeline) describe(ctx context.Context, content string) string {
	content = strings.TrimSpace(content)
	if p.deps.Media == nil || !media.IsMediaURL(content) {
		return content
	}
	return p.deps.Media.DescribeOrPlaceholder(ctx, content)
}

// emit sends one segment: typing pulse, then the GIF bubble, then the text.
func (p *Pipeline) emit(ctx context.Context, conversation *chat.Chat, seg Segment, wait time.Duration) error {
	members := conversation.Members
	p.deps.Sender.Typing(conversation.ID, p.cfg.BotUserID, members, true)
	err := p.sleep(ctx, wait)
	p.deps.Sender.Typing(conversation.ID, p.cfg.BotUserID, members, false)
	if err != nil {
		return err
	}

	if seg.GIFTerm != "" && p.deps.Media != nil {
		gifURL, err := p.deps.Media.Search(ctx, seg.GIFTerm)
		if err != nil {
			log.WithError(err).WithField("term", seg.GIFTerm).Warn("gif search failed")
		} else if _, err := p.deps.Sender.Send(ctx, chatservice.SendRequest{
			ChatID:      conversation.ID,
			SenderID:    p.cfg.BotUserID,
			Members:     members,
			Content:     gifURL,
			Attachments: []chat.Attachment{{URL: gifURL, Type: "gif", Name: seg.GIFTerm}},
		}); err != nil {
			return fmt.Errorf("send gif: %w", err)
		}
	}

	if seg.Text == "" {
		return nil
	}
	if _, err := p.deps.Sender.Send(ctx, chatservice.SendRequest{
		ChatID:   conversation.ID,
		SenderID: p.cfg.BotUserID,
		Members:  members,
		Content:  seg.Text,
	}); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (p *Pipeline) sendFallback(ctx context.Context, chatID string) {
	lines := p.cfg.Persona.FallbackLines
	if len(lines) == 0 {
		return
	}
	line := lines[p.jitter(int64(len(lines)))]
	if _, err := p.deps.Sender.Send(ctx, chatservice.SendRequest{ChatID: chatID, SenderID: p.cfg.BotUserID, Content: line}); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Warn("send fallback failed")
	}
}

func (p *Pipeline) botName(u *chat.User) string {
	if p.cfg.Persona.Name != "" {
		return p.cfg.Persona.Name
	}
	return u.Name
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nameCache memoizes sender labels for one run.
type nameCache struct {
	users store.UserStore
	names map[string]string
}

func newNameCache(users store.UserStore) *nameCache {
	return &nameCache{users: users, names: make(map[string]string)}
}

func (c *nameCache) get(ctx context.Context, userID string) string {
	if name, ok := c.names[userID]; ok {
		return name
	}
	name := userID
	if u, err := c.users.FindUser(ctx, userID); err == nil && u.Name != "" {
		name = u.Name
	}
	c.names[userID] = name
	return name
}
