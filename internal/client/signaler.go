package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

const signalWriteTimeout = 5 * time.Second

// Events are the non-negotiation callbacks a signaler consumer can hook.
// Negotiation and membership events go straight to the session.
type Events struct {
	OnChat   func(msg *wire.ChatMessage)
	OnCanvas func(event string, raw json.RawMessage)
	OnError  func(msg string)
}

// Signaler is the client end of the signaling channel: one websocket,
// writes serialized behind a mutex, reads dispatched by a single loop.
type Signaler struct {
	conn *websocket.Conn

	mu     sync.Mutex // guards writes and closed
	closed bool
}

// Dial connects to the signaling endpoint of the given server, presenting
// the room token obtained from the join endpoint.
func Dial(ctx context.Context, baseURL, token string) (*Signaler, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws/signal"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial signaling: %w", err)
	}
	return &Signaler{conn: conn}, nil
}

// SendSignal sends an addressed negotiation message.
func (s *Signaler) SendSignal(sig *wire.Signal) error {
	return s.writeJSON(sig)
}

// SendPresence announces joinRoom / joinCall / leaveCall.
func (s *Signaler) SendPresence(p *wire.Presence) error {
	return s.writeJSON(p)
}

// SendChat submits a room chat message.
func (s *Signaler) SendChat(room domain.RoomID, user domain.User, content string) error {
	return s.writeJSON(&wire.ChatMessage{
		Type:        wire.TypeSendMessage,
		Room:        room,
		Content:     content,
		Identity:    user.ID,
		DisplayName: user.DisplayName,
	})
}

// SendCanvas forwards a whiteboard event verbatim.
func (s *Signaler) SendCanvas(raw json.RawMessage) error {
	return s.writeRaw(raw)
}

func (s *Signaler) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeRaw(data)
}

func (s *Signaler) writeRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("signaler closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the websocket down; the Run loop returns shortly after.
func (s *Signaler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	deadline := time.Now().Add(signalWriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

// Run reads frames until the connection dies, dispatching membership and
// negotiation events to the session and everything else to ev. It returns
// the read error that ended the loop (nil after a clean close).
func (s *Signaler) Run(ctx context.Context, sess *Session, ev Events) error {
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			_ = s.Close()
		}()
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("read signaling: %w", err)
		}
		s.dispatch(data, sess, ev)
	}
}

func (s *Signaler) dispatch(data []byte, sess *Session, ev Events) {
	typ, err := wire.Peek(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "client.signal").Msg("undecodable frame")
		return
	}

	switch typ {
	case wire.TypeExistingParticipants:
		var ep wire.ExistingParticipants
		if err := json.Unmarshal(data, &ep); err == nil {
			sess.OnExistingParticipants(&ep)
		}
	case wire.TypeUserJoined:
		var d wire.MembershipDelta
		if err := json.Unmarshal(data, &d); err == nil {
			sess.OnUserJoined(&d)
		}
	case wire.TypeUserLeft:
		var d wire.MembershipDelta
		if err := json.Unmarshal(data, &d); err == nil {
			sess.OnUserLeft(&d)
		}
	case wire.TypeOffer, wire.TypeAnswer, wire.TypeICECandidate:
		var sig wire.Signal
		if err := json.Unmarshal(data, &sig); err == nil {
			if err := sess.HandleSignal(&sig); err != nil {
				log.Error().Err(err).Str("module", "client.signal").Str("event", typ).Msg("negotiation")
			}
		}
	case wire.TypeReceiveMessage:
		if ev.OnChat == nil {
			return
		}
		var msg wire.ChatMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			ev.OnChat(&msg)
		}
	case wire.TypeDraw, wire.TypeSyncCanvas, wire.TypeClearCanvas,
		wire.TypeHandDraw, wire.TypeHandClearCanvas:
		if ev.OnCanvas != nil {
			ev.OnCanvas(typ, json.RawMessage(data))
		}
	case wire.TypeError:
		if ev.OnError == nil {
			return
		}
		var e wire.Error
		if err := json.Unmarshal(data, &e); err == nil {
			ev.OnError(e.Error)
		}
	case wire.TypePong:
		// keepalive reply, nothing to do
	default:
		log.Debug().Str("module", "client.signal").Str("event", typ).Msg("unhandled frame")
	}
}
