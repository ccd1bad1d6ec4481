package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/config"
	"github.com/zhouzirui/tavern-chat/backend/internal/metrics"
)

var log = logrus.WithField("component", "ai")

// RetryConfig bounds the failover loop.
type RetryConfig struct {
	// MaxAttempts counts attempts across all credentials.
	MaxAttempts int
	// Timeout bounds a single attempt; zero leaves it to the provider.
	Timeout time.Duration
}

// Request is one generation call: system instructions, context window and
// the combined user turn.
type Request struct {
	System  string
	History []*schema.Message
	Query   string
}

// PromptChars counts the runes sent to the provider.
func (r Request) PromptChars() int {
	n := utf8.RuneCountInString(r.System) + utf8.RuneCountInString(r.Query)
	for _, msg := range r.History {
		if msg != nil {
			n += utf8.RuneCountInString(msg.Content)
		}
	}
	return n
}

// Completion is the provider's answer. TokensUsed is zero when the provider
// did not report usage.
type Completion struct {
	Text       string
	TokensUsed int
	Credential int
}

type runnable = compose.Runnable[map[string]any, *schema.Message]

// Client runs the prompt chain against one compiled chain per credential
// and rotates to the next credential on rate-limit errors.
type Client struct {
	chains  []runnable
	retry   RetryConfig
	metrics *metrics.Metrics

	mu     sync.Mutex
	cursor int
}

// NewClient compiles a prompt-template chain for every model.
func NewClient(ctx context.Context, models []model.ChatModel, retry RetryConfig, m *metrics.Metrics) (*Client, error) {
	if len(models) == 0 {
		return nil, ErrNoCredentials
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	chains := make([]runnable, 0, len(models))
	for i, chatModel := range models {
		promptTemplate := prompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{system}"),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage("{query}"),
		)

		chain := compose.NewChain[map[string]any, *schema.Message]()
		chain.AppendChatTemplate(promptTemplate)
		chain.AppendChatModel(chatModel)

		compiled, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile chat chain %d: %w", i, err)
		}
		chains = append(chains, compiled)
	}

	return &Client{chains: chains, retry: retry, metrics: m}, nil
}

// NewClientFromConfig builds one Ark chat model per configured API key.
func NewClientFromConfig(ctx context.Context, cfg config.AIConfig, m *metrics.Metrics) (*Client, error) {
	models, err := cfg.NewChatModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat models: %w", err)
	}
	return NewClient(ctx, models, RetryConfig{MaxAttempts: cfg.MaxAttempts, Timeout: cfg.Timeout}, m)
}

// Credentials returns how many credentials the client rotates over.
func (c *Client) Credentials() int {
	return len(c.chains)
}

// CompleteChat generates a reply. Rate-limited attempts and attempt timeouts
// rotate the credential and retry up to MaxAttempts; any other error is
// returned immediately.
func (c *Client) CompleteChat(ctx context.Context, req Request) (*Completion, error) {
	input := map[string]any{
		"system":  req.System,
		"history": req.History,
		"query":   req.Query,
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		idx, chain := c.current()

		resp, err := c.invoke(ctx, chain, input)
		if err == nil {
			if resp == nil {
				return nil, errors.New("ai: provider returned an empty response")
			}
			return &Completion{Text: resp.Content, TokensUsed: reportedTokens(resp), Credential: idx}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !IsRateLimited(err) {
			return nil, fmt.Errorf("failed to run AI chain: %w", err)
		}

		lastErr = err
		next := c.nextCredential(idx)
		c.metrics.ProviderRetry()
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":    attempt,
			"credential": idx,
			"next":       next,
		}).Warn("provider rate limited, rotating credential")
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderExhausted, c.retry.MaxAttempts, lastErr)
}

func (c *Client) invoke(ctx context.Context, chain runnable, input map[string]any) (*schema.Message, error) {
	if c.retry.Timeout <= 0 {
		return chain.Invoke(ctx, input)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.retry.Timeout)
	defer cancel()

	resp, err := chain.Invoke(attemptCtx, input)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: attempt timed out after %s", ErrRateLimited, c.retry.Timeout)
	}
	return resp, err
}

func (c *Client) current() (int, runnable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor, c.chains[c.cursor]
}

// nextCredential advances the cursor past failed. Concurrent callers that
// failed on the same credential advance it only once.
func (c *Client) nextCredential(failed int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor == failed {
		c.cursor = (c.cursor + 1) % len(c.chains)
	}
	return c.cursor
}

func reportedTokens(msg *schema.Message) int {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0
	}
	return msg.ResponseMeta.Usage.TotalTokens
}
