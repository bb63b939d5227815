package domain

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	Lang      string    `json:"lang,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewConversation is what a session hands over for persistence.
type NewConversation struct {
	UserID  string
	RoomID  string
	Message string
}

func NewConversationFromPayload(p ChatPayload) NewConversation {
	return NewConversation{
		UserID:  p.UserID,
		RoomID:  p.RoomID,
		Message: p.Text(),
	}
}
