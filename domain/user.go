package domain

import "time"

type User struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"created_at"`
}

type NewUser struct {
	Username string `json:"username" validate:"required,max=30,excludesall=/?#%"`
	Nickname string `json:"nickname" validate:"required,max=30"`
}
