package app

import (
	"testing"

	"github.com/avolkov/huddle/internal/domain"
)

func TestJoinCallSnapshotExcludesJoiner(t *testing.T) {
	r := NewRegistry()
	r.JoinRoom("r1", "alice", "Alice", "c1", &fakeConn{})
	r.JoinRoom("r1", "bob", "Bob", "c2", &fakeConn{})

	others, added := r.JoinCall("r1", "alice", "Alice")
	if !added || len(others) != 0 {
		t.Fatalf("first joiner: added=%v others=%v", added, others)
	}

	others, added = r.JoinCall("r1", "bob", "Bob")
	if !added {
		t.Fatal("bob join rejected")
	}
	if len(others) != 1 || others[0].Identity != "alice" {
		t.Fatalf("others = %v, want exactly alice", others)
	}
}

func TestJoinCallRejectsDuplicatesAndStrangers(t *testing.T) {
	r := NewRegistry()
	r.JoinRoom("r1", "alice", "Alice", "c1", &fakeConn{})

	if _, added := r.JoinCall("r1", "alice", "Alice"); !added {
		t.Fatal("first join rejected")
	}
	if _, added := r.JoinCall("r1", "alice", "Alice"); added {
		t.Fatal("duplicate joinCall accepted")
	}
	if _, added := r.JoinCall("r1", "stranger", "X"); added {
		t.Fatal("joinCall accepted for identity not in the room")
	}
	if _, added := r.JoinCall("nowhere", "alice", "Alice"); added {
		t.Fatal("joinCall accepted for unknown room")
	}
}

func TestLeaveCallIdempotent(t *testing.T) {
	r := NewRegistry()
	r.JoinRoom("r1", "alice", "Alice", "c1", &fakeConn{})
	r.JoinRoom("r1", "bob", "Bob", "c2", &fakeConn{})
	r.JoinCall("r1", "alice", "Alice")
	r.JoinCall("r1", "bob", "Bob")

	remaining, removed := r.LeaveCall("r1", "bob")
	if !removed {
		t.Fatal("leaveCall rejected for call member")
	}
	if len(remaining) != 1 || remaining[0].Identity != "alice" {
		t.Fatalf("remaining = %v, want exactly alice", remaining)
	}

	if _, removed := r.LeaveCall("r1", "bob"); removed {
		t.Fatal("second leaveCall reported a removal")
	}
}

func TestLeaveRoomDropsCallMembership(t *testing.T) {
	r := NewRegistry()
	r.JoinRoom("r1", "alice", "Alice", "c1", &fakeConn{})
	r.JoinRoom("r1", "bob", "Bob", "c2", &fakeConn{})
	r.JoinCall("r1", "alice", "Alice")

	if empty := r.LeaveRoom("r1", "alice"); empty {
		t.Fatal("room reported empty while bob is present")
	}
	if members := r.CallMembers("r1"); len(members) != 0 {
		t.Fatalf("call members = %v after member left the room", members)
	}
	if empty := r.LeaveRoom("r1", "bob"); !empty {
		t.Fatal("room not reported empty after last member left")
	}
	if !r.RoomEmpty("r1") {
		t.Fatal("RoomEmpty = false for deleted room")
	}
}

func TestResolveConnIgnoresStaleHandles(t *testing.T) {
	r := NewRegistry()
	r.JoinRoom("r1", "alice", "Alice", "c1", &fakeConn{})

	room, id, name, ok := r.ResolveConn("c1")
	if !ok || room != "r1" || id != "alice" || name != "Alice" {
		t.Fatalf("ResolveConn = %q/%q/%q/%v", room, id, name, ok)
	}

	// Reconnect replaces the handle; the old one must stop resolving.
	r.JoinRoom("r1", "alice", "Alice", "c2", &fakeConn{})
	if _, _, _, ok := r.ResolveConn("c1"); ok {
		t.Fatal("stale handle still resolves")
	}
	if _, _, _, ok := r.ResolveConn("c2"); !ok {
		t.Fatal("fresh handle does not resolve")
	}
}

func TestRejoinReleasesReplacedHandle(t *testing.T) {
	r := NewRegistry()
	r.JoinRoom("r1", "alice", "Alice", "c1", &fakeConn{})
	r.JoinRoom("r1", "alice", "Alice", "c2", &fakeConn{})

	if got := len(r.byConn); got != 1 {
		t.Fatalf("byConn holds %d entries after rejoin, want 1", got)
	}
	r.LeaveRoom("r1", "alice")
	if got := len(r.byConn); got != 0 {
		t.Fatalf("byConn holds %d entries after leave, want 0", got)
	}
}

func TestLookupConnFindsOnlyPresentIdentities(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.JoinRoom("r1", "alice", "Alice", "c1", conn)

	got, ok := r.LookupConn(domain.UserID("alice"))
	if !ok || got != conn {
		t.Fatal("LookupConn missed a present identity")
	}
	if _, ok := r.LookupConn("nobody"); ok {
		t.Fatal("LookupConn found an absent identity")
	}
}
