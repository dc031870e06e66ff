package domain

import "time"

type (
	RoomID   string
	RoomName string
)

const MaxRoomNameLen = 36

// Room is a named, password-protected collaboration space. Only meta here;
// who is currently inside lives in the app registry, persisted participants
// live in the store.
type Room struct {
	ID           RoomID    `json:"id"`
	Name         RoomName  `json:"name"`
	Description  string    `json:"description"`
	PasswordHash string    `json:"-"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}
