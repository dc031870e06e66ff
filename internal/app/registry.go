package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/domain"
)

// CallMember is one entry of a room's call-membership set, paired with the
// connection currently used to reach it.
type CallMember struct {
	Identity    domain.UserID
	DisplayName string
	Conn        core.SignalConnection
}

type memberEntry struct {
	displayName string
	connID      core.ConnID
	conn        core.SignalConnection
	inCall      bool
}

type roomEntry struct {
	members map[domain.UserID]*memberEntry
}

// Registry tracks which participants are in which room and which of them are
// in the room's call, mapping identities to their live connections. All
// mutation is funneled through methods that mutate and snapshot under one
// lock, so a broadcast computed from the returned snapshot can never name a
// member that was concurrently removed.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*roomEntry
	byConn map[core.ConnID]connRef
}

type connRef struct {
	room     domain.RoomID
	identity domain.UserID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[domain.RoomID]*roomEntry),
		byConn: make(map[core.ConnID]connRef),
	}
}

// JoinRoom registers identity as present in the room under the given
// connection. Idempotent per connection; a rejoin under a new connection
// replaces the stale handle.
func (r *Registry) JoinRoom(room domain.RoomID, identity domain.UserID, displayName string, connID core.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	re, ok := r.rooms[room]
	if !ok {
		re = &roomEntry{members: make(map[domain.UserID]*memberEntry)}
		r.rooms[room] = re
	}
	// A rejoin replaces the handle; drop the old one so it cannot leak.
	if old, ok := re.members[identity]; ok && old.connID != connID {
		delete(r.byConn, old.connID)
	}
	re.members[identity] = &memberEntry{displayName: displayName, connID: connID, conn: conn}
	r.byConn[connID] = connRef{room: room, identity: identity}
	log.Info().Str("module", "app.registry").Str("room", string(room)).Str("identity", string(identity)).Msg("joined room")
}

// JoinCall flips identity into the room's call-membership set and returns
// the other members already in the call, snapshotted atomically with the
// mutation. added is false when the identity was already in the call or is
// not in the room at all (call membership never exceeds room membership).
func (r *Registry) JoinCall(room domain.RoomID, identity domain.UserID, displayName string) (others []CallMember, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	re, ok := r.rooms[room]
	if !ok {
		return nil, false
	}
	me, ok := re.members[identity]
	if !ok || me.inCall {
		return nil, false
	}
	for id, m := range re.members {
		if id == identity || !m.inCall {
			continue
		}
		others = append(others, CallMember{Identity: id, DisplayName: m.displayName, Conn: m.conn})
	}
	me.inCall = true
	if displayName != "" {
		me.displayName = displayName
	}
	return others, true
}

// LeaveCall removes identity from the call set and returns the members left
// in the call. removed is false (and remaining nil) when the identity was
// not a call member; leaving twice is a no-op, not an error.
func (r *Registry) LeaveCall(room domain.RoomID, identity domain.UserID) (remaining []CallMember, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveCallLocked(room, identity)
}

func (r *Registry) leaveCallLocked(room domain.RoomID, identity domain.UserID) ([]CallMember, bool) {
	re, ok := r.rooms[room]
	if !ok {
		return nil, false
	}
	me, ok := re.members[identity]
	if !ok || !me.inCall {
		return nil, false
	}
	me.inCall = false
	var remaining []CallMember
	for id, m := range re.members {
		if !m.inCall {
			continue
		}
		remaining = append(remaining, CallMember{Identity: id, DisplayName: m.displayName, Conn: m.conn})
	}
	return remaining, true
}

// LeaveRoom drops identity from the room entirely. Call membership goes with
// it: the subset invariant is enforced by construction.
func (r *Registry) LeaveRoom(room domain.RoomID, identity domain.UserID) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	re, ok := r.rooms[room]
	if !ok {
		return false
	}
	if m, ok := re.members[identity]; ok {
		delete(r.byConn, m.connID)
		delete(re.members, identity)
	}
	if len(re.members) == 0 {
		delete(r.rooms, room)
		return true
	}
	return false
}

// ResolveConn maps a transport handle back to its room/identity pair, for
// connection-loss handling. ok is false for handles that never joined a room.
func (r *Registry) ResolveConn(connID core.ConnID) (domain.RoomID, domain.UserID, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.byConn[connID]
	if !ok {
		return "", "", "", false
	}
	re, ok := r.rooms[ref.room]
	if !ok {
		return "", "", "", false
	}
	m, ok := re.members[ref.identity]
	if !ok {
		return "", "", "", false
	}
	// A reconnect replaces the handle; a loss notice for the stale one must
	// not evict the fresh session.
	if m.connID != connID {
		return "", "", "", false
	}
	return ref.room, ref.identity, m.displayName, true
}

// LookupConn returns the live connection for an identity, scanning the
// identity's room. Used by the relay; not-found means drop.
func (r *Registry) LookupConn(identity domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, re := range r.rooms {
		if m, ok := re.members[identity]; ok {
			return m.conn, true
		}
	}
	return nil, false
}

// RoomMembers snapshots every member of the room (chat-level presence).
func (r *Registry) RoomMembers(room domain.RoomID) []CallMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	re, ok := r.rooms[room]
	if !ok {
		return nil
	}
	out := make([]CallMember, 0, len(re.members))
	for id, m := range re.members {
		out = append(out, CallMember{Identity: id, DisplayName: m.displayName, Conn: m.conn})
	}
	return out
}

// CallMembers snapshots the call-membership set of the room.
func (r *Registry) CallMembers(room domain.RoomID) []CallMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	re, ok := r.rooms[room]
	if !ok {
		return nil
	}
	var out []CallMember
	for id, m := range re.members {
		if m.inCall {
			out = append(out, CallMember{Identity: id, DisplayName: m.displayName, Conn: m.conn})
		}
	}
	return out
}

// RoomEmpty reports whether nobody is present in the room anymore.
func (r *Registry) RoomEmpty(room domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	re, ok := r.rooms[room]
	return !ok || len(re.members) == 0
}
