// Package official is a chat client for the key-authenticated HTTP API. The
// service keeps no conversation state for this API, so the package tracks
// history locally and trims it to a token budget before every request.
package official

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/sashabaranov/go-openai"

	"github.com/revchat/revchat/internal/logger"
)

// DefaultSystemPrompt primes the model the same way the web client does.
const DefaultSystemPrompt = "You are ChatGPT, a large language model. Respond conversationally."

// DefaultConversation is the conversation id used when the caller passes "".
const DefaultConversation = "default"

// Client is the subset of the openai client the chatbot needs; tests swap in
// a mock.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Chatbot relays prompts through the key-authenticated API.
type Chatbot struct {
	client        Client
	model         string
	systemPrompt  string
	Conversations *Conversations
}

// Options configure NewChatbot.
type Options struct {
	BaseURL      string
	Proxy        string
	Model        string
	SystemPrompt string
	TokenBudget  int
	ReplyReserve int
}

// NewChatbot creates a client authenticated with apiKey.
func NewChatbot(apiKey string, opts Options) (*Chatbot, error) {
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Proxy != "" {
		pu, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, err
		}
		cfg.HTTPClient = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(pu)}}
	}
	return newChatbot(openai.NewClientWithConfig(cfg), opts)
}

// NewChatbotWithClient creates a chatbot over an existing API client.
func NewChatbotWithClient(client Client, opts Options) (*Chatbot, error) {
	return newChatbot(client, opts)
}

func newChatbot(client Client, opts Options) (*Chatbot, error) {
	convs, err := NewConversations(opts.TokenBudget, opts.ReplyReserve)
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	system := opts.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &Chatbot{
		client:        client,
		model:         model,
		systemPrompt:  system,
		Conversations: convs,
	}, nil
}

// Ask sends a prompt in the given conversation and returns the full reply.
func (c *Chatbot) Ask(ctx context.Context, prompt, conversationID string) (string, error) {
	conversationID, req := c.prepare(prompt, conversationID)

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from API")
	}
	reply := resp.Choices[0].Message.Content
	c.Conversations.Add(conversationID, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	return reply, nil
}

// AskStream sends a prompt and streams reply deltas to onDelta, returning
// the full reply once the stream ends.
func (c *Chatbot) AskStream(ctx context.Context, prompt, conversationID string, onDelta func(string)) (string, error) {
	conversationID, req := c.prepare(prompt, conversationID)
	req.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var reply string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reply, err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply += delta
		if onDelta != nil {
			onDelta(delta)
		}
	}

	c.Conversations.Add(conversationID, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	return reply, nil
}

// prepare records the prompt and assembles the budget-trimmed request.
func (c *Chatbot) prepare(prompt, conversationID string) (string, openai.ChatCompletionRequest) {
	if conversationID == "" {
		conversationID = DefaultConversation
	}
	c.Conversations.Add(conversationID, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	history := c.Conversations.Messages(conversationID)
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: c.systemPrompt,
	})
	messages = append(messages, history...)

	logger.L.Debug("official ask", "conversation_id", conversationID, "messages", len(messages))
	return conversationID, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
}
