// Package bot batches rapid user messages per chat and turns each batch
// into a multi-bubble bot reply.
package bot

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/metrics"
)

var log = logrus.WithField("component", "bot")

// DebouncePolicy picks how long a buffer waits after its latest message.
// Short messages suggest the user is still typing, long ones that they are
// done.
type DebouncePolicy struct {
	ShortContentWait time.Duration
	DefaultWait      time.Duration
	LongContentWait  time.Duration
	ShortThreshold   int
	LongThreshold    int
}

// DefaultDebouncePolicy returns the production tiers.
func DefaultDebouncePolicy() DebouncePolicy {
	return DebouncePolicy{
		ShortContentWait: 3000 * time.Millisecond,
		DefaultWait:      1500 * time.Millisecond,
		LongContentWait:  800 * time.Millisecond,
		ShortThreshold:   10,
		LongThreshold:    100,
	}
}

// Wait returns the debounce window for the latest message in a buffer.
func (p DebouncePolicy) Wait(latest string) time.Duration {
	n := utf8.RuneCountInString(latest)
	switch {
	case n < p.ShortThreshold:
		return p.ShortContentWait
	case n > p.LongThreshold:
		return p.LongContentWait
	default:
		return p.DefaultWait
	}
}

// BufferedMessage is one inbound message waiting for the bot.
type BufferedMessage struct {
	MessageID string
	UserID    string
	Content   string
	At        time.Time
}

// Batch is a drained buffer handed to the pipeline.
type Batch struct {
	ChatID   string
	UserID   string
	Messages []BufferedMessage
}

// Contents returns the buffered contents in arrival order.
func (b Batch) Contents() []string {
	out := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		out[i] = m.Content
	}
	return out
}

// HandlerFunc processes a drained batch.
type HandlerFunc func(ctx context.Context, batch Batch)

type buffer struct {
	messages []BufferedMessage
	gen      uint64
	timer    *time.Timer
}

// Engine owns the per-chat buffers. A chat moves Empty -> Buffering ->
// Draining -> Empty; a message arriving while a batch drains opens a new
// buffer, and drains of one chat run one after another.
type Engine struct {
	policy  DebouncePolicy
	handle  HandlerFunc
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  map[string]*buffer
	draining map[string]chan struct{}
	gen      uint64
	stopped  bool
}

// NewEngine creates an engine that hands drained batches to handle.
func NewEngine(policy DebouncePolicy, handle HandlerFunc, m *metrics.Metrics) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		policy:   policy,
		handle:   handle,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*buffer),
		draining: make(map[string]chan struct{}),
	}
}

// Enqueue buffers content from userID for chatID.
func (e *Engine) Enqueue(chatID, userID, content string) bool {
	return e.EnqueueMessage(chatID, BufferedMessage{UserID: userID, Content: content})
}

// EnqueueMessage appends msg to the chat's live buffer, creating one when
// none is pending, and re-arms the debounce timer. It reports false once
// the engine is stopped.
func (e *Engine) EnqueueMessage(chatID string, msg BufferedMessage) bool {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}

	buf, ok := e.pending[chatID]
	if !ok {
		buf = &buffer{}
		e.pending[chatID] = buf
	}
	buf.messages = append(buf.messages, msg)
	if buf.timer != nil {
		buf.timer.Stop()
	}

	e.gen++
	gen := e.gen
	buf.gen = gen
	buf.timer = time.AfterFunc(e.policy.Wait(msg.Content), func() { e.fire(chatID, gen) })

	e.metrics.MessageBuffered()
	log.WithFields(logrus.Fields{"chat_id": chatID, "buffered": len(buf.messages)}).Debug("message buffered")
	return true
}

// fire drains the buffer if gen is still its live timer generation.
func (e *Engine) fire(chatID string, gen uint64) {
	e.mu.Lock()
	buf, ok := e.pending[chatID]
	if !ok || buf.gen != gen || e.stopped {
		e.mu.Unlock()
		return
	}
	delete(e.pending, chatID)

	batch := Batch{
		ChatID:   chatID,
		UserID:   buf.messages[len(buf.messages)-1].UserID,
		Messages: buf.messages,
	}
	prev := e.draining[chatID]
	done := make(chan struct{})
	e.draining[chatID] = done
	e.wg.Add(1)
	e.mu.Unlock()

	go e.drain(batch, prev, done)
}

func (e *Engine) drain(batch Batch, prev, done chan struct{}) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		if e.draining[batch.ChatID] == done {
			delete(e.draining, batch.ChatID)
		}
		e.mu.Unlock()
		close(done)
	}()

	if prev != nil {
		select {
		case <-prev:
		case <-e.ctx.Done():
			return
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("chat_id", batch.ChatID).Errorf("bot pipeline panic: %v", r)
		}
	}()
	e.handle(e.ctx, batch)
}

// Pending returns how many messages the chat's live buffer holds.
func (e *Engine) Pending(chatID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if buf, ok := e.pending[chatID]; ok {
		return len(buf.messages)
	}
	return 0
}

// Draining reports whether a batch of chatID is being processed.
func (e *Engine) Draining(chatID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.draining[chatID]
	return ok
}

// Stop discards pending buffers, cancels running pipelines and waits for
// them to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for chatID, buf := range e.pending {
		buf.timer.Stop()
		delete(e.pending, chatID)
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}
