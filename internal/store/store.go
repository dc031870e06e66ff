// Package store persists the document-store side of the service: room
// records, chat history and file metadata. The signaling core only touches
// it through the narrow interfaces below.
package store

import (
	"context"
	"errors"

	"github.com/avolkov/huddle/internal/domain"
)

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room not found")
)

type RoomStore interface {
	CreateRoom(ctx context.Context, room domain.Room) error
	RoomByName(ctx context.Context, name domain.RoomName) (*domain.Room, error)
	RoomByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	AddParticipant(ctx context.Context, id domain.RoomID, user domain.User) error
	RemoveParticipant(ctx context.Context, id domain.RoomID, identity domain.UserID) error
	Participants(ctx context.Context, id domain.RoomID) ([]domain.User, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, msg domain.Message) error
	RecentMessages(ctx context.Context, id domain.RoomID, limit int64) ([]domain.Message, error)
}

type FileStore interface {
	AddFile(ctx context.Context, meta domain.FileMeta) error
	Files(ctx context.Context, id domain.RoomID) ([]domain.FileMeta, error)
	RemoveFile(ctx context.Context, id domain.RoomID, fileID string) error
}

// Store is the full persistence surface; the redis implementation satisfies
// it, tests use in-memory fakes of the narrow interfaces.
type Store interface {
	RoomStore
	MessageStore
	FileStore
	CleanupRoom(ctx context.Context, id domain.RoomID) error
}
