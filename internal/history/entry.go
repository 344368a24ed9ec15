package history

import "time"

// Entry is a single transcribed message. MessageID is the service-side id of
// the reply (the parent id for the next request); it is empty for prompts.
type Entry struct {
	ID             uint64    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
}
