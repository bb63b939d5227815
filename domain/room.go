package domain

import "time"

// Room is the persisted view of a room. Live membership is owned by the registry.
type Room struct {
	ID             string    `json:"id"`
	LastMessage    string    `json:"last_message"`
	ParticipantIDs []string  `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// RoomResponse joins a room with the users that ever posted in it.
type RoomResponse struct {
	Room  Room   `json:"room"`
	Users []User `json:"users"`
}
