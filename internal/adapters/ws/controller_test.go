package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/avolkov/huddle/internal/app"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

const readWait = 2 * time.Second

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := app.NewRegistry()
	coord := app.NewCoordinator(reg, app.NewRelay(reg))
	ctl := NewController(coord, 65536, time.Second)

	r := gin.New()
	// Stand-in for the room-token middleware: the identity comes from the
	// path, the room is fixed.
	r.GET("/ws/:identity", func(c *gin.Context) {
		identity := c.Param("identity")
		c.Set("room_id", "r1")
		c.Set("identity", identity)
		c.Set("display_name", strings.ToUpper(identity[:1])+identity[1:])
		ctl.HandleSignal(context.Background(), c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialClient(t *testing.T, srv *httptest.Server, identity string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + identity
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", identity, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *wsClient) read() (string, []byte) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	typ, err := wire.Peek(data)
	if err != nil {
		c.t.Fatalf("peek %q: %v", data, err)
	}
	return typ, data
}

func (c *wsClient) joinRoom(identity, displayName string) {
	c.t.Helper()
	c.send(wire.Presence{Type: wire.TypeJoinRoom, Room: "r1", Identity: domain.UserID(identity), DisplayName: displayName})
}

func (c *wsClient) joinCall(identity, displayName string) wire.ExistingParticipants {
	c.t.Helper()
	c.send(wire.Presence{Type: wire.TypeJoinCall, Room: "r1", Identity: domain.UserID(identity), DisplayName: displayName})
	typ, data := c.read()
	if typ != wire.TypeExistingParticipants {
		c.t.Fatalf("after joinCall got %q, want existingParticipants", typ)
	}
	var ep wire.ExistingParticipants
	if err := json.Unmarshal(data, &ep); err != nil {
		c.t.Fatal(err)
	}
	return ep
}

func TestJoinCallSnapshotAndJoinNotice(t *testing.T) {
	srv := newTestServer(t)

	alice := dialClient(t, srv, "alice")
	alice.joinRoom("alice", "Alice")
	if ep := alice.joinCall("alice", "Alice"); len(ep.Participants) != 0 {
		t.Fatalf("first joiner snapshot = %v, want empty", ep.Participants)
	}

	bob := dialClient(t, srv, "bob")
	bob.joinRoom("bob", "Bob")
	ep := bob.joinCall("bob", "Bob")
	if len(ep.Participants) != 1 || ep.Participants[0].Identity != "alice" {
		t.Fatalf("bob snapshot = %v, want exactly alice", ep.Participants)
	}

	typ, data := alice.read()
	if typ != wire.TypeUserJoined {
		t.Fatalf("alice got %q, want userJoined", typ)
	}
	var delta wire.MembershipDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		t.Fatal(err)
	}
	if delta.Identity != "bob" || delta.DisplayName != "Bob" {
		t.Fatalf("delta = %+v, want bob/Bob", delta)
	}
}

func TestSignalRelayedWithSenderRewritten(t *testing.T) {
	srv := newTestServer(t)

	alice := dialClient(t, srv, "alice")
	alice.joinRoom("alice", "Alice")
	alice.joinCall("alice", "Alice")
	bob := dialClient(t, srv, "bob")
	bob.joinRoom("bob", "Bob")
	bob.joinCall("bob", "Bob")
	alice.read() // userJoined bob

	bob.send(wire.Signal{Type: wire.TypeOffer, To: "alice", Offer: json.RawMessage(`{"type":"offer","sdp":"x"}`)})

	typ, data := alice.read()
	if typ != wire.TypeOffer {
		t.Fatalf("alice got %q, want offer", typ)
	}
	var sig wire.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		t.Fatal(err)
	}
	if sig.From != "bob" || sig.To != "" {
		t.Fatalf("relayed signal From=%q To=%q, want From=bob with To cleared", sig.From, sig.To)
	}
}

func TestPresenceRefusedForForeignIdentity(t *testing.T) {
	srv := newTestServer(t)

	mallory := dialClient(t, srv, "mallory")
	mallory.send(wire.Presence{Type: wire.TypeJoinRoom, Room: "r1", Identity: "alice", DisplayName: "Alice"})

	typ, _ := mallory.read()
	if typ != wire.TypeError {
		t.Fatalf("impersonating presence got %q, want error", typ)
	}
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	srv := newTestServer(t)

	alice := dialClient(t, srv, "alice")
	alice.joinRoom("alice", "Alice")
	alice.joinCall("alice", "Alice")
	bob := dialClient(t, srv, "bob")
	bob.joinRoom("bob", "Bob")
	bob.joinCall("bob", "Bob")
	alice.read() // userJoined bob

	bob.conn.Close()

	typ, data := alice.read()
	if typ != wire.TypeUserLeft {
		t.Fatalf("alice got %q, want userLeft", typ)
	}
	var delta wire.MembershipDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		t.Fatal(err)
	}
	if delta.Identity != "bob" {
		t.Fatalf("delta = %+v, want bob", delta)
	}
}

func TestChatBroadcastIncludesSender(t *testing.T) {
	srv := newTestServer(t)

	alice := dialClient(t, srv, "alice")
	alice.joinRoom("alice", "Alice")
	bob := dialClient(t, srv, "bob")
	bob.joinRoom("bob", "Bob")
	// Frames on one connection are handled in order, so a ping round-trip
	// guarantees bob's join has been registered before alice broadcasts.
	bob.send(map[string]string{"type": wire.TypePing})
	if typ, _ := bob.read(); typ != wire.TypePong {
		t.Fatalf("bob got %q, want pong", typ)
	}

	alice.send(wire.ChatMessage{Type: wire.TypeSendMessage, Room: "r1", Content: "hello", Identity: "alice", DisplayName: "Alice"})

	for _, c := range []*wsClient{alice, bob} {
		typ, data := c.read()
		if typ != wire.TypeReceiveMessage {
			t.Fatalf("got %q, want receiveMessage", typ)
		}
		var msg wire.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Content != "hello" || msg.Timestamp == 0 {
			t.Fatalf("broadcast = %+v", msg)
		}
	}
}

func TestHandDrawRelayedToOthers(t *testing.T) {
	srv := newTestServer(t)

	alice := dialClient(t, srv, "alice")
	alice.joinRoom("alice", "Alice")
	bob := dialClient(t, srv, "bob")
	bob.joinRoom("bob", "Bob")
	// Frames on one connection are handled in order, so a ping round-trip
	// guarantees bob's join has been registered before alice broadcasts.
	bob.send(map[string]string{"type": wire.TypePing})
	if typ, _ := bob.read(); typ != wire.TypePong {
		t.Fatalf("bob got %q, want pong", typ)
	}

	alice.send(map[string]any{"type": wire.TypeHandDraw, "x": 12, "y": 34})
	if typ, _ := bob.read(); typ != wire.TypeHandDraw {
		t.Fatalf("bob got %q, want hand-draw", typ)
	}

	alice.send(map[string]string{"type": wire.TypeHandClearCanvas})
	if typ, _ := bob.read(); typ != wire.TypeHandClearCanvas {
		t.Fatalf("bob got %q, want clear-canvas", typ)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	srv := newTestServer(t)

	alice := dialClient(t, srv, "alice")
	alice.joinRoom("alice", "Alice")
	alice.send(map[string]string{"type": wire.TypePing})

	typ, _ := alice.read()
	if typ != wire.TypePong {
		t.Fatalf("got %q, want pong", typ)
	}
}
