package domain

import "time"

// Message is one persisted chat message.
type Message struct {
	RoomID      RoomID    `json:"roomId"`
	Content     string    `json:"content"`
	Identity    UserID    `json:"identity"`
	DisplayName string    `json:"displayName"`
	SentAt      time.Time `json:"sentAt"`
}
