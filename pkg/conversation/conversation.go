// Package conversation implements the chat assistant pipeline: an append-only
// transcript that accepts one question at a time, asks a generator for an
// answer with bounded retries, and always records exactly one assistant reply.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/pkg/generate"
	"github.com/papercomputeco/medfit/pkg/retry"
)

var (
	ErrEmptyInput       = errors.New("message is empty")
	ErrAwaitingResponse = errors.New("still waiting for the previous response")
	ErrEmptyResponse    = errors.New("empty response received")
)

// Option configures a Conversation.
type Option func(*Conversation)

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Conversation) { c.logger = logger }
}

// WithRetryPolicy replaces the default three-attempt exponential policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Conversation) { c.policy = p }
}

// WithPrompt replaces MedicalPrompt.
func WithPrompt(fn PromptFunc) Option {
	return func(c *Conversation) { c.prompt = fn }
}

// WithObserver registers fn to be called after every appended turn.
// fn runs outside the conversation lock and may read the transcript.
func WithObserver(fn func(Turn)) Option {
	return func(c *Conversation) { c.observers = append(c.observers, fn) }
}

// WithTimeout bounds a whole exchange, retries and backoff included.
func WithTimeout(d time.Duration) Option {
	return func(c *Conversation) { c.timeout = d }
}

// WithClock overrides the time source used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// Conversation owns a transcript and at most one outstanding generation request.
type Conversation struct {
	generator generate.Generator
	policy    retry.Policy
	prompt    PromptFunc
	logger    *zap.Logger
	observers []func(Turn)
	timeout   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	turns    []Turn
	awaiting bool
}

// New creates a Conversation whose transcript starts with the greeting.
func New(generator generate.Generator, opts ...Option) *Conversation {
	c := &Conversation{
		generator: generator,
		policy:    retry.DefaultPolicy(),
		prompt:    MedicalPrompt,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.turns = []Turn{{Role: RoleAssistant, Content: Greeting, CreatedAt: c.now()}}
	return c
}

// Transcript returns a copy of the turns in append order.
func (c *Conversation) Transcript() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns, greeting included.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// IsAwaitingResponse reports whether a submitted question has not been answered yet.
func (c *Conversation) IsAwaitingResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}

// Submit appends text as a user turn and starts generating the reply in the
// background. The returned channel receives the assistant turn once it has
// been appended and is then closed.
//
// Blank text is rejected with ErrEmptyInput and a submission made while a reply
// is pending is rejected with ErrAwaitingResponse; in both cases the transcript
// is left untouched.
func (c *Conversation) Submit(ctx context.Context, text string) (<-chan Turn, error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return nil, ErrEmptyInput
	}

	c.mu.Lock()
	if c.awaiting {
		c.mu.Unlock()
		return nil, ErrAwaitingResponse
	}
	c.awaiting = true
	userTurn := Turn{Role: RoleUser, Content: question, CreatedAt: c.now()}
	c.turns = append(c.turns, userTurn)
	c.mu.Unlock()

	c.notify(userTurn)

	done := make(chan Turn, 1)
	go func() {
		defer close(done)

		reply := c.exchange(ctx, question)

		c.mu.Lock()
		c.turns = append(c.turns, reply)
		c.awaiting = false
		c.mu.Unlock()

		c.notify(reply)
		done <- reply
	}()

	return done, nil
}

// Ask submits text and waits for the assistant turn. If ctx ends first the
// reply is still appended to the transcript when it arrives.
func (c *Conversation) Ask(ctx context.Context, text string) (Turn, error) {
	done, err := c.Submit(ctx, text)
	if err != nil {
		return Turn{}, err
	}

	select {
	case reply := <-done:
		return reply, nil
	case <-ctx.Done():
		return Turn{}, ctx.Err()
	}
}

// exchange runs one GenerationRequest and converts its outcome into an assistant turn.
func (c *Conversation) exchange(ctx context.Context, question string) (reply Turn) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("generator panic: %v", r)
			c.logger.Error("chat generation panicked", zap.Error(err))
			reply = c.failure(err)
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := c.prompt(question)
	start := time.Now()

	policy := c.policy
	next := policy.Notify
	policy.Notify = func(attempt int, err error, wait time.Duration) {
		if err != nil {
			c.logger.Warn("generation attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		} else {
			c.logger.Debug("generation attempt succeeded",
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
		if next != nil {
			next(attempt, err, wait)
		}
	}

	resp, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (generate.Response, error) {
		resp, err := c.generator.Generate(ctx, prompt)
		if err != nil {
			return generate.Response{}, err
		}
		if resp.Text == "" {
			return generate.Response{}, ErrEmptyResponse
		}
		return resp, nil
	})
	if err != nil {
		c.logger.Error("chat generation failed",
			zap.String("kind", Classify(err).String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return c.failure(err)
	}

	c.logger.Info("chat response generated",
		zap.String("model", resp.Model),
		zap.Int("prompt_len", len(prompt)),
		zap.Int("response_len", len(resp.Text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Turn{Role: RoleAssistant, Content: resp.Text, CreatedAt: c.now()}
}

func (c *Conversation) failure(err error) Turn {
	return Turn{Role: RoleAssistant, Content: Diagnostic(err), CreatedAt: c.now(), Failed: true}
}

func (c *Conversation) notify(t Turn) {
	for _, fn := range c.observers {
		fn(t)
	}
}
