package official

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"

	"github.com/revchat/revchat/internal/logger"
)

// DefaultTokenBudget is the context window assumed for prompt assembly.
const DefaultTokenBudget = 4000

// DefaultReplyReserve is how many tokens are held back for the reply.
const DefaultReplyReserve = 1500

// Conversations tracks message history per conversation id. Unlike the wire
// client, the official API is stateless, so the caller owns the history.
type Conversations struct {
	mu            sync.Mutex
	conversations map[string][]openai.ChatCompletionMessage

	encoder      *tiktoken.Tiktoken
	tokenBudget  int
	replyReserve int
}

// NewConversations creates an empty history store. budget and reserve fall
// back to the defaults when zero.
func NewConversations(budget, reserve int) (*Conversations, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if reserve <= 0 {
		reserve = DefaultReplyReserve
	}
	return &Conversations{
		conversations: map[string][]openai.ChatCompletionMessage{},
		encoder:       enc,
		tokenBudget:   budget,
		replyReserve:  reserve,
	}, nil
}

// Add appends a message to a conversation.
func (c *Conversations) Add(conversationID string, msg openai.ChatCompletionMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[conversationID] = append(c.conversations[conversationID], msg)
}

// Messages returns the conversation trimmed to the token budget. The oldest
// messages are dropped until the history plus the reply reserve fits.
func (c *Conversations) Messages(conversationID string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.conversations[conversationID]
	for len(msgs) > 0 && c.tokens(msgs) > c.tokenBudget-c.replyReserve {
		logger.L.Debug("purging oldest message to fit token budget", "conversation_id", conversationID)
		msgs = msgs[1:]
	}
	c.conversations[conversationID] = msgs

	out := make([]openai.ChatCompletionMessage, len(msgs))
	copy(out, msgs)
	return out
}

// MaxTokens returns the reply allowance left for the conversation.
func (c *Conversations) MaxTokens(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	left := c.tokenBudget - c.tokens(c.conversations[conversationID])
	if left < 1 {
		left = 1
	}
	return left
}

// Rollback removes the latest n messages from a conversation.
func (c *Conversations) Rollback(conversationID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.conversations[conversationID]
	if n >= len(msgs) {
		delete(c.conversations, conversationID)
		return
	}
	c.conversations[conversationID] = msgs[:len(msgs)-n]
}

// Purge removes the oldest n messages from a conversation.
func (c *Conversations) Purge(conversationID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.conversations[conversationID]
	if n >= len(msgs) {
		delete(c.conversations, conversationID)
		return
	}
	c.conversations[conversationID] = msgs[n:]
}

// Remove deletes a conversation entirely.
func (c *Conversations) Remove(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, conversationID)
}

// Len returns the number of messages held for a conversation.
func (c *Conversations) Len(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conversations[conversationID])
}

func (c *Conversations) tokens(msgs []openai.ChatCompletionMessage) int {
	n := 0
	for _, m := range msgs {
		// Per-message framing overhead is approximated at 4 tokens.
		n += len(c.encoder.Encode(m.Content, nil, nil)) + 4
	}
	return n
}
