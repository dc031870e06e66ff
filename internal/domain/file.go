package domain

import "time"

// FileMeta describes a file shared into a room. Byte storage is external;
// only the record is kept so room cleanup can discard it together with
// messages.
type FileMeta struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimetype"`
	Size       int64     `json:"size"`
	RoomID     RoomID    `json:"roomId"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}
