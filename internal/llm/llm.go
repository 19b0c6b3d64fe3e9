// Package llm defines the LLMClient boundary interface (spec §6: "a
// synchronous call(prompt, context) -> text; a context maintains a
// bounded history. The core's only requirement is that the context can be
// cleared between skill invocations") and a token-bounded context buffer
// grounded on the teacher's pkg/utils.TokenCounter and
// pkg/agent/history.HistoryStrategy.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Message is one turn of conversation handed to the model.
type Message struct {
	Role    string
	Content string
}

// Client is the synchronous LLM boundary the worker loop invokes from
// skill executors. Transport, prompt templates, and provider selection
// are explicitly out of scope (spec §1); callers supply a concrete
// implementation.
type Client interface {
	// Call sends ctxWindow's bounded history plus prompt and returns the
	// raw completion text.
	Call(ctx context.Context, prompt string, ctxWindow *Context) (string, error)
}

// Context is a per-skill-invocation bounded message history. It is
// cleared between skill invocations (spec §6) and trims from the oldest
// message when the token budget is exceeded, grounded on the teacher's
// TokenCounter.FitWithinLimit sliding-window trim.
type Context struct {
	mu       sync.Mutex
	messages []Message
	counter  *TokenCounter
	maxTokens int
}

// NewContext creates a bounded Context for the named model.
func NewContext(model string, maxTokens int) (*Context, error) {
	tc, err := NewTokenCounter(model)
	if err != nil {
		return nil, err
	}
	return &Context{counter: tc, maxTokens: maxTokens}, nil
}

// Append adds a message, trimming the oldest entries if the budget is
// exceeded.
func (c *Context) Append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	c.messages = c.counter.FitWithinLimit(c.messages, c.maxTokens)
}

// Messages returns a snapshot of the bounded history.
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Clear empties the history (spec §6: "the context can be cleared
// between skill invocations").
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// TokenCounter counts tokens accurately per model, caching encodings
// across instances (grounded on pkg/utils.TokenCounter).
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the named model, falling back to
// cl100k_base when the model has no known encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()
	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("llm: failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a message list, including the
// per-message role/format overhead OpenAI's tokenizer guidance describes.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	const tokensPerMessage = 3
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(m.Role, nil, nil))
		total += len(tc.encoding.Encode(m.Content, nil, nil))
	}
	total += 3 // reply priming
	return total
}

// FitWithinLimit returns the most recent messages that fit within
// maxTokens, trimming from the oldest.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := []Message{}
	currentTokens := 3 // reply priming
	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessages([]Message{messages[i]})
		if currentTokens+msgTokens > maxTokens {
			break
		}
		fitted = append([]Message{messages[i]}, fitted...)
		currentTokens += msgTokens
	}
	return fitted
}
