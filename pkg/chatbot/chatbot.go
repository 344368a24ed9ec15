// Package chatbot implements the wire-protocol client for the conversational
// AI web service: it posts prompts to the conversation endpoint and streams
// back incremental reply snapshots, threading messages with the service's own
// conversation and parent message ids.
package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/revchat/revchat/internal/logger"
)

// DefaultBaseURL is the conversation API root used when neither the
// CHATGPT_BASE_URL environment variable nor WithBaseURL is set.
const DefaultBaseURL = "https://ai.fakeopen.com/api/"

const (
	defaultModelFree = "text-davinci-002-render-sha"
	defaultModelPaid = "text-davinci-002-render-paid"
)

// ConversationCache persists the conversation id to current-node mapping so
// threading survives restarts.
type ConversationCache interface {
	Current(conversationID string) (string, bool)
	SetCurrent(conversationID, parentID string) error
}

// Chatbot is a client for the conversation API. It remembers the last seen
// conversation and parent message ids; the service itself owns the history.
type Chatbot struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	model       string
	paid        bool

	mu             sync.Mutex
	conversationID string
	parentID       string
	mapping        map[string]string // conversation id -> current node
	prevConvIDs    []string
	prevParentIDs  []string

	cache ConversationCache
}

// Option configures a Chatbot.
type Option func(*Chatbot) error

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Chatbot) error {
		c.baseURL = u
		return nil
	}
}

// WithModel sets the model slug sent with every request.
func WithModel(model string) Option {
	return func(c *Chatbot) error {
		c.model = model
		return nil
	}
}

// WithPaid selects the paid-account default model slug.
func WithPaid(paid bool) Option {
	return func(c *Chatbot) error {
		c.paid = paid
		return nil
	}
}

// WithProxy routes all requests through the given proxy URL.
func WithProxy(proxy string) Option {
	return func(c *Chatbot) error {
		pu, err := url.Parse(proxy)
		if err != nil {
			return fmt.Errorf("invalid proxy url: %w", err)
		}
		c.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(pu)}
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Chatbot) error {
		c.httpClient = hc
		return nil
	}
}

// WithConversation resumes an existing conversation.
func WithConversation(conversationID, parentID string) Option {
	return func(c *Chatbot) error {
		c.conversationID = conversationID
		c.parentID = parentID
		return nil
	}
}

// WithConversationCache plugs in persistent current-node tracking.
func WithConversationCache(cache ConversationCache) Option {
	return func(c *Chatbot) error {
		c.cache = cache
		return nil
	}
}

// New creates a chatbot authenticated with the given access token.
func New(accessToken string, opts ...Option) (*Chatbot, error) {
	if accessToken == "" {
		return nil, ErrInsufficientCredentials
	}
	c := &Chatbot{
		httpClient:  &http.Client{},
		accessToken: accessToken,
		mapping:     map[string]string{},
	}
	if env := os.Getenv("CHATGPT_BASE_URL"); env != "" {
		c.baseURL = env
	} else {
		c.baseURL = DefaultBaseURL
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if !strings.HasSuffix(c.baseURL, "/") {
		c.baseURL += "/"
	}
	return c, nil
}

// AskOptions override per-request threading and model selection.
type AskOptions struct {
	ConversationID string
	ParentID       string
	Model          string
	AutoContinue   bool
}

// Ask posts a prompt and returns the response stream.
func (c *Chatbot) Ask(ctx context.Context, prompt string, opts AskOptions) (*Stream, error) {
	msg := Message{
		ID:      uuid.NewString(),
		Role:    "user",
		Author:  Author{Role: "user"},
		Content: Content{ContentType: "text", Parts: []string{prompt}},
	}
	return c.PostMessages(ctx, []Message{msg}, opts)
}

// PostMessages sends prepared messages and returns the response stream.
func (c *Chatbot) PostMessages(ctx context.Context, messages []Message, opts AskOptions) (*Stream, error) {
	cid, pid, err := c.resolveThread(ctx, opts.ConversationID, opts.ParentID)
	if err != nil {
		return nil, err
	}
	req := conversationRequest{
		Action:          "next",
		Messages:        messages,
		ConversationID:  cid,
		ParentMessageID: pid,
		Model:           c.pickModel(opts.Model),
	}
	return c.sendConversation(ctx, req)
}

// ContinueWrite asks the service to resume a reply cut off at the token
// limit ("action": "continue").
func (c *Chatbot) ContinueWrite(ctx context.Context, opts AskOptions) (*Stream, error) {
	cid, pid, err := c.resolveThread(ctx, opts.ConversationID, opts.ParentID)
	if err != nil {
		return nil, err
	}
	req := conversationRequest{
		Action:          "continue",
		ConversationID:  cid,
		ParentMessageID: pid,
		Model:           c.pickModel(opts.Model),
	}
	return c.sendConversation(ctx, req)
}

// resolveThread applies the threading rules: an explicit parent requires an
// explicit conversation; switching conversations drops the remembered parent;
// a brand new conversation gets a generated parent id; a known conversation
// without a parent recovers its current node from the cache, the in-memory
// mapping, or the service's history endpoint.
func (c *Chatbot) resolveThread(ctx context.Context, cid, pid string) (string, string, error) {
	if pid != "" && cid == "" {
		return "", "", &Error{
			Source:  "user",
			Message: "conversation_id must be set once parent_id is set",
			Code:    CodeUserError,
		}
	}

	c.mu.Lock()
	if cid != "" && cid != c.conversationID {
		c.parentID = ""
	}
	if cid == "" {
		cid = c.conversationID
	}
	if pid == "" {
		pid = c.parentID
	}
	c.mu.Unlock()

	if cid == "" && pid == "" {
		return "", uuid.NewString(), nil
	}
	if cid == "" || pid != "" {
		return cid, pid, nil
	}

	if node, ok := c.currentNode(cid); ok {
		return cid, node, nil
	}
	history, err := c.GetMessageHistory(ctx, cid)
	if err != nil || history.CurrentNode == "" {
		// Unknown conversation id: start over rather than fail the ask.
		logger.L.Debug("conversation id not resolvable, starting fresh", "conversation_id", cid, "error", err)
		return "", uuid.NewString(), nil
	}
	c.rememberNode(cid, history.CurrentNode)
	return cid, history.CurrentNode, nil
}

func (c *Chatbot) currentNode(cid string) (string, bool) {
	c.mu.Lock()
	node, ok := c.mapping[cid]
	c.mu.Unlock()
	if ok {
		return node, true
	}
	if c.cache != nil {
		return c.cache.Current(cid)
	}
	return "", false
}

func (c *Chatbot) rememberNode(cid, node string) {
	c.mu.Lock()
	c.mapping[cid] = node
	c.mu.Unlock()
	if c.cache != nil {
		if err := c.cache.SetCurrent(cid, node); err != nil {
			logger.L.Warn("conversation cache write failed", "error", err)
		}
	}
}

func (c *Chatbot) pickModel(override string) string {
	if override != "" {
		return override
	}
	if c.model != "" {
		return c.model
	}
	if c.paid {
		return defaultModelPaid
	}
	return defaultModelFree
}

func (c *Chatbot) sendConversation(ctx context.Context, reqBody conversationRequest) (*Stream, error) {
	c.mu.Lock()
	c.prevConvIDs = append(c.prevConvIDs, reqBody.ConversationID)
	c.prevParentIDs = append(c.prevParentIDs, reqBody.ParentMessageID)
	c.mu.Unlock()

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"conversation", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, "text/event-stream")

	logger.L.Debug("sending conversation request", "action", reqBody.Action, "conversation_id", reqBody.ConversationID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, string(msg))
	}
	return newStream(c, resp.Body), nil
}

// adoptIDs records the ids of the last streamed reply as the new thread head.
func (c *Chatbot) adoptIDs(cid, pid string) {
	c.mu.Lock()
	if cid != "" {
		c.conversationID = cid
		c.mapping[cid] = pid
	}
	if pid != "" {
		c.parentID = pid
	}
	c.mu.Unlock()
	if c.cache != nil && cid != "" {
		if err := c.cache.SetCurrent(cid, pid); err != nil {
			logger.L.Warn("conversation cache write failed", "error", err)
		}
	}
}

// ConversationID returns the id of the conversation being continued.
func (c *Chatbot) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// ParentID returns the id of the last reply message.
func (c *Chatbot) ParentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parentID
}

// SetConversation switches the client to another conversation.
func (c *Chatbot) SetConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = conversationID
	c.parentID = ""
}

// Reset forgets the current conversation. The next ask starts a new one.
func (c *Chatbot) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = ""
	c.parentID = uuid.NewString()
}

// Rollback rewinds the thread head by n requests.
func (c *Chatbot) Rollback(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ; n > 0 && len(c.prevConvIDs) > 0; n-- {
		c.conversationID = c.prevConvIDs[len(c.prevConvIDs)-1]
		c.parentID = c.prevParentIDs[len(c.prevParentIDs)-1]
		c.prevConvIDs = c.prevConvIDs[:len(c.prevConvIDs)-1]
		c.prevParentIDs = c.prevParentIDs[:len(c.prevParentIDs)-1]
	}
}

// GetConversations lists conversations from the service.
func (c *Chatbot) GetConversations(ctx context.Context, offset, limit int) ([]Conversation, error) {
	var out struct {
		Items []Conversation `json:"items"`
	}
	path := fmt.Sprintf("conversations?offset=%d&limit=%d", offset, limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetMessageHistory fetches the full history of one conversation.
func (c *Chatbot) GetMessageHistory(ctx context.Context, conversationID string) (*History, error) {
	var out History
	if err := c.doJSON(ctx, http.MethodGet, "conversation/"+conversationID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenTitle asks the service to generate a title for a conversation.
func (c *Chatbot) GenTitle(ctx context.Context, conversationID, messageID string) (string, error) {
	in := map[string]string{"message_id": messageID, "model": "text-davinci-002-render"}
	var out struct {
		Title string `json:"title"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "conversation/gen_title/"+conversationID, in, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// ChangeTitle renames a conversation.
func (c *Chatbot) ChangeTitle(ctx context.Context, conversationID, title string) error {
	return c.doJSON(ctx, http.MethodPatch, "conversation/"+conversationID, map[string]string{"title": title}, nil)
}

// DeleteConversation hides a conversation on the service.
func (c *Chatbot) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodPatch, "conversation/"+conversationID, map[string]bool{"is_visible": false}, nil)
}

// ClearConversations hides every conversation on the service.
func (c *Chatbot) ClearConversations(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPatch, "conversations", map[string]bool{"is_visible": false}, nil)
}

func (c *Chatbot) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.setHeaders(req, "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Chatbot) setHeaders(req *http.Request, accept string) {
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}
