package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/app"
	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// session is the per-connection state the dispatcher needs: the identity the
// room token was minted for and the ephemeral transport handle.
type session struct {
	connID      core.ConnID
	room        domain.RoomID
	identity    domain.UserID
	displayName string
}

// Controller upgrades authenticated requests to websockets and routes their
// signaling events into the coordinator.
type Controller struct {
	coord      *app.Coordinator
	readLimit  int64
	pingPeriod time.Duration
}

func NewController(coord *app.Coordinator, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{coord: coord, readLimit: readLimit, pingPeriod: pingPeriod}
}

// HandleSignal expects the room-token middleware to have validated the join
// token and stashed its claims in the gin context.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sess := &session{
		connID:      core.ConnID(uuid.NewString()),
		room:        domain.RoomID(c.GetString("room_id")),
		identity:    domain.UserID(c.GetString("identity")),
		displayName: c.GetString("display_name"),
	}
	if sess.room == "" || sess.identity == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "room token required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	log.Info().Str("module", "ws").Str("conn", string(sess.connID)).Str("identity", string(sess.identity)).Msg("new signaling connection")

	conn := newSignalConn(ws)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer cancel()
		ctl.writePump(ctx, conn)
	}()
	go func() {
		defer cancel()
		ctl.readPump(ctx, sess, conn)
	}()
}

func (ctl *Controller) handleFrame(sess *session, conn *signalConn, data []byte) {
	typ, err := wire.Peek(data)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad json")
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}

	switch typ {
	case wire.TypeJoinRoom:
		ctl.handlePresence(sess, conn, data, func(p *wire.Presence) {
			ctl.coord.OnJoinRoom(p.Room, p.Identity, p.DisplayName, sess.connID, conn)
		})
	case wire.TypeJoinCall:
		ctl.handlePresence(sess, conn, data, func(p *wire.Presence) {
			ctl.coord.OnJoinCall(p.Room, p.Identity, p.DisplayName, conn)
		})
	case wire.TypeLeaveCall:
		ctl.handlePresence(sess, conn, data, func(p *wire.Presence) {
			ctl.coord.OnLeaveCall(p.Room, p.Identity, p.DisplayName)
		})
	case wire.TypeOffer, wire.TypeAnswer, wire.TypeICECandidate:
		var sig wire.Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("bad signal payload")
			return
		}
		ctl.coord.OnSignal(sess.identity, &sig)
	case wire.TypeSendMessage:
		var msg wire.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("bad chat payload")
			return
		}
		if msg.Room != sess.room {
			return
		}
		msg.Identity = sess.identity
		ctl.coord.OnChat(&msg)
	case wire.TypeDraw, wire.TypeSyncCanvas, wire.TypeClearCanvas,
		wire.TypeHandDraw, wire.TypeHandClearCanvas:
		ctl.coord.OnCanvas(sess.room, sess.identity, data)
	case wire.TypePing:
		ctl.sendJSON(conn, struct {
			Type string `json:"type"`
		}{Type: wire.TypePong})
	default:
		log.Warn().Str("module", "ws").Str("type", typ).Msg("unknown signal")
	}
}

// handlePresence decodes a presence event and refuses rooms/identities other
// than the ones the connection's token was minted for.
func (ctl *Controller) handlePresence(sess *session, conn *signalConn, data []byte, apply func(*wire.Presence)) {
	var p wire.Presence
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad presence payload")
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	if p.Room != sess.room || p.Identity != sess.identity {
		ctl.sendJSON(conn, wire.NewError("room token mismatch"))
		return
	}
	if p.DisplayName == "" {
		p.DisplayName = sess.displayName
	}
	apply(&p)
}

func (ctl *Controller) sendJSON(conn *signalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(b)
}
