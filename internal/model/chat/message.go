package chat

import "time"

// Message roles. Two messages are written per turn: the masked user
// message and the restored assistant reply.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message persists one side of a turn. Immutable once written.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
