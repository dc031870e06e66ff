package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

const (
	keyRoom         = "room:%s"              // JSON room record
	keyRoomByName   = "roomname:%s"          // name → id
	keyParticipants = "room:%s:participants" // hash identity → displayName
	keyMessages     = "room:%s:messages"     // list of JSON messages
	keyFiles        = "room:%s:files"        // hash fileID → JSON meta

	maxStoredMessages = 500
)

// RedisStore keeps room/message/file records in redis.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) CreateRoom(ctx context.Context, room domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	// Name reservation doubles as the existence check.
	ok, err := s.rdb.SetNX(ctx, fmt.Sprintf(keyRoomByName, room.Name), string(room.ID), 0).Result()
	if err != nil {
		return fmt.Errorf("reserve room name: %w", err)
	}
	if !ok {
		return ErrRoomExists
	}
	if err := s.rdb.Set(ctx, fmt.Sprintf(keyRoom, room.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("store room: %w", err)
	}
	return nil
}

func (s *RedisStore) RoomByName(ctx context.Context, name domain.RoomName) (*domain.Room, error) {
	id, err := s.rdb.Get(ctx, fmt.Sprintf(keyRoomByName, name)).Result()
	if err == redis.Nil {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.RoomByID(ctx, domain.RoomID(id))
}

func (s *RedisStore) RoomByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := s.rdb.Get(ctx, fmt.Sprintf(keyRoom, id)).Result()
	if err == redis.Nil {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &room, nil
}

func (s *RedisStore) AddParticipant(ctx context.Context, id domain.RoomID, user domain.User) error {
	return s.rdb.HSet(ctx, fmt.Sprintf(keyParticipants, id), string(user.ID), user.DisplayName).Err()
}

func (s *RedisStore) RemoveParticipant(ctx context.Context, id domain.RoomID, identity domain.UserID) error {
	return s.rdb.HDel(ctx, fmt.Sprintf(keyParticipants, id), string(identity)).Err()
}

func (s *RedisStore) Participants(ctx context.Context, id domain.RoomID) ([]domain.User, error) {
	entries, err := s.rdb.HGetAll(ctx, fmt.Sprintf(keyParticipants, id)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(entries))
	for identity, name := range entries {
		out = append(out, domain.User{ID: domain.UserID(identity), DisplayName: name})
	}
	return out, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(keyMessages, msg.RoomID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -maxStoredMessages, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RecentMessages(ctx context.Context, id domain.RoomID, limit int64) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := s.rdb.LRange(ctx, fmt.Sprintf(keyMessages, id), -limit, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			log.Warn().Err(err).Str("module", "store").Str("room", string(id)).Msg("skipping undecodable message")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) AddFile(ctx context.Context, meta domain.FileMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, fmt.Sprintf(keyFiles, meta.RoomID), meta.ID, data).Err()
}

func (s *RedisStore) Files(ctx context.Context, id domain.RoomID) ([]domain.FileMeta, error) {
	entries, err := s.rdb.HGetAll(ctx, fmt.Sprintf(keyFiles, id)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.FileMeta, 0, len(entries))
	for _, item := range entries {
		var meta domain.FileMeta
		if err := json.Unmarshal([]byte(item), &meta); err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *RedisStore) RemoveFile(ctx context.Context, id domain.RoomID, fileID string) error {
	return s.rdb.HDel(ctx, fmt.Sprintf(keyFiles, id), fileID).Err()
}

// CleanupRoom discards everything persisted for the room: messages, file
// metadata, participants, the room record and its name reservation.
func (s *RedisStore) CleanupRoom(ctx context.Context, id domain.RoomID) error {
	room, err := s.RoomByID(ctx, id)
	if err == ErrRoomNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyMessages, id))
	pipe.Del(ctx, fmt.Sprintf(keyFiles, id))
	pipe.Del(ctx, fmt.Sprintf(keyParticipants, id))
	pipe.Del(ctx, fmt.Sprintf(keyRoom, id))
	pipe.Del(ctx, fmt.Sprintf(keyRoomByName, room.Name))
	_, err = pipe.Exec(ctx)
	return err
}
