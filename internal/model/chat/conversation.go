package chat

import "time"

// Conversation groups the messages exchanged by one user of one tenant.
// The ID may be supplied by the client on the first turn; otherwise the
// gateway generates one.
type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	UserID    string    `json:"userId"`
	Topic     string    `json:"topic,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
