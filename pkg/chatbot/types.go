package chatbot

// Author identifies the sender of a wire message.
type Author struct {
	Role string `json:"role"`
}

// Content is the message payload. The service only uses text parts.
type Content struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// Message is a single message in the conversation request body.
type Message struct {
	ID      string  `json:"id"`
	Role    string  `json:"role,omitempty"`
	Author  Author  `json:"author"`
	Content Content `json:"content"`
}

// conversationRequest is the body posted to the conversation endpoint.
// Action is "next" for a new prompt and "continue" to resume a truncated
// reply.
type conversationRequest struct {
	Action          string    `json:"action"`
	Messages        []Message `json:"messages,omitempty"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	ParentMessageID string    `json:"parent_message_id"`
	Model           string    `json:"model"`
}

// wireEvent mirrors one server-sent event from the conversation stream.
type wireEvent struct {
	ConversationID string       `json:"conversation_id"`
	Message        *wireMessage `json:"message"`
}

type wireMessage struct {
	ID        string        `json:"id"`
	Author    Author        `json:"author"`
	Content   *Content      `json:"content"`
	Metadata  *wireMetadata `json:"metadata"`
	EndTurn   *bool         `json:"end_turn"`
	Recipient string        `json:"recipient"`
}

type wireMetadata struct {
	ModelSlug     string `json:"model_slug"`
	FinishDetails *struct {
		Type string `json:"type"`
	} `json:"finish_details"`
}

// ResponseChunk is one incremental snapshot of the assistant's reply.
// Message holds the full text so far, not a delta.
type ResponseChunk struct {
	Message        string
	ConversationID string
	ParentID       string
	Model          string
	FinishDetails  string
	EndTurn        bool
	Recipient      string
}

// Conversation is one entry of the conversation list endpoint.
type Conversation struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	CreateTime string `json:"create_time"`
}

// History is the message history of one conversation. The service owns the
// full tree; the client only needs the current node to thread replies.
type History struct {
	Title       string                    `json:"title"`
	CurrentNode string                    `json:"current_node"`
	Mapping     map[string]map[string]any `json:"mapping"`
}
