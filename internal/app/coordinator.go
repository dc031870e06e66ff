package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

// Janitor deletes a room's persisted records (messages, file metadata, room
// meta) once the room has stayed empty through the grace window.
type Janitor interface {
	CleanupRoom(ctx context.Context, room domain.RoomID) error
}

// MessageSink persists chat messages as they are broadcast.
type MessageSink interface {
	AppendMessage(ctx context.Context, msg domain.Message) error
}

// Coordinator reacts to presence events: it mutates the registry and
// broadcasts the resulting membership deltas to the rest of the room.
// Negotiation messages pass through untouched via the relay.
type Coordinator struct {
	Registry *Registry
	Relay    *Relay

	// Messages and Cleanup are optional collaborators; nil disables the
	// corresponding side effect.
	Messages MessageSink
	Cleanup  Janitor

	// CleanupGrace is how long a room must stay empty before its persisted
	// records are discarded. The membership set is re-checked when the
	// timer fires so a rejoin during the window wins.
	CleanupGrace time.Duration
}

func NewCoordinator(registry *Registry, relay *Relay) *Coordinator {
	return &Coordinator{Registry: registry, Relay: relay, CleanupGrace: 30 * time.Second}
}

// OnJoinRoom records chat-level presence for the connection.
func (c *Coordinator) OnJoinRoom(room domain.RoomID, identity domain.UserID, displayName string, connID core.ConnID, conn core.SignalConnection) {
	c.Registry.JoinRoom(room, identity, displayName, connID, conn)
}

// OnJoinCall adds the identity to the room's call, replies to the joiner
// with the membership snapshot taken atomically with the mutation, and
// announces the join to everyone already in the call.
func (c *Coordinator) OnJoinCall(room domain.RoomID, identity domain.UserID, displayName string, conn core.SignalConnection) {
	others, added := c.Registry.JoinCall(room, identity, displayName)
	if !added {
		// Already in the call, or not in the room at all. The snapshot was
		// already delivered on the first join; repeating it would race the
		// negotiations it triggered.
		log.Debug().Str("module", "app.coordinator").Str("room", string(room)).Str("identity", string(identity)).Msg("joinCall ignored")
		return
	}

	snapshot := wire.ExistingParticipants{
		Type:         wire.TypeExistingParticipants,
		Participants: make([]wire.Participant, 0, len(others)),
	}
	for _, m := range others {
		snapshot.Participants = append(snapshot.Participants, wire.Participant{Identity: m.Identity, DisplayName: m.DisplayName})
	}
	c.Relay.Send(conn, snapshot)

	c.Relay.SendAll(others, wire.MembershipDelta{Type: wire.TypeUserJoined, Identity: identity, DisplayName: displayName})
	log.Info().Str("module", "app.coordinator").Str("room", string(room)).Str("identity", string(identity)).Int("peers", len(others)).Msg("joined call")
}

// OnLeaveCall removes the identity from the call set and tells the rest.
// Idempotent: leaving a call you are not in broadcasts nothing.
func (c *Coordinator) OnLeaveCall(room domain.RoomID, identity domain.UserID, displayName string) {
	remaining, removed := c.Registry.LeaveCall(room, identity)
	if !removed {
		return
	}
	c.Relay.SendAll(remaining, wire.MembershipDelta{Type: wire.TypeUserLeft, Identity: identity, DisplayName: displayName})
	log.Info().Str("module", "app.coordinator").Str("room", string(room)).Str("identity", string(identity)).Msg("left call")
}

// OnConnectionLost treats a dropped transport as an implicit call-leave and
// room-leave. Safe for handles that never joined anything.
func (c *Coordinator) OnConnectionLost(connID core.ConnID) {
	room, identity, displayName, ok := c.Registry.ResolveConn(connID)
	if !ok {
		return
	}
	c.OnLeaveCall(room, identity, displayName)
	if empty := c.Registry.LeaveRoom(room, identity); empty {
		c.scheduleCleanup(room)
	}
	log.Info().Str("module", "app.coordinator").Str("room", string(room)).Str("identity", string(identity)).Msg("connection lost")
}

// OnSignal forwards a negotiation message to its target, rewriting the
// envelope so the receiver learns who it came from. The payload itself is
// relayed verbatim and never validated here.
func (c *Coordinator) OnSignal(from domain.UserID, sig *wire.Signal) {
	to := sig.To
	if to == "" || to == from {
		return
	}
	sig.From = from
	sig.To = ""
	c.Relay.SendTo(to, sig)
}

// OnChat stamps, persists and broadcasts a chat message to the whole room,
// sender included.
func (c *Coordinator) OnChat(msg *wire.ChatMessage) {
	now := time.Now()
	msg.Type = wire.TypeReceiveMessage
	msg.Timestamp = now.UnixMilli()
	if c.Messages != nil {
		err := c.Messages.AppendMessage(context.Background(), domain.Message{
			RoomID:      msg.Room,
			Content:     msg.Content,
			Identity:    msg.Identity,
			DisplayName: msg.DisplayName,
			SentAt:      now,
		})
		if err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(msg.Room)).Msg("persist message")
		}
	}
	c.Relay.SendAll(c.Registry.RoomMembers(msg.Room), msg)
}

// OnCanvas rebroadcasts a whiteboard event verbatim to everyone else in the
// room. The canvas protocol is last-write/broadcast; no state is kept here.
func (c *Coordinator) OnCanvas(room domain.RoomID, from domain.UserID, frame core.Frame) {
	for _, m := range c.Registry.RoomMembers(room) {
		if m.Identity == from {
			continue
		}
		if err := m.Conn.TrySend(frame); err != nil {
			log.Debug().Err(err).Str("module", "app.coordinator").Str("to", string(m.Identity)).Msg("canvas send failed")
		}
	}
}

func (c *Coordinator) scheduleCleanup(room domain.RoomID) {
	if c.Cleanup == nil {
		return
	}
	time.AfterFunc(c.CleanupGrace, func() {
		if !c.Registry.RoomEmpty(room) {
			// Someone came back during the grace window.
			return
		}
		if err := c.Cleanup.CleanupRoom(context.Background(), room); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(room)).Msg("room cleanup")
			return
		}
		log.Info().Str("module", "app.coordinator").Str("room", string(room)).Msg("room cleaned up")
	})
}
