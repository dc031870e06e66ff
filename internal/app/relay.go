package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/domain"
)

// Relay forwards signaling frames by recipient identity. Fire-and-forget:
// unreachable targets and backpressured connections drop the frame, the
// sender's peer link discovers the outcome through its own connectivity
// state. Per-target order follows the relay's receive order because each
// inbound connection is handled sequentially by its read pump.
type Relay struct {
	registry *Registry
}

func NewRelay(registry *Registry) *Relay {
	return &Relay{registry: registry}
}

// Forward delivers the frame verbatim to the target's current connection,
// or drops it if the target is not reachable.
func (r *Relay) Forward(to domain.UserID, frame core.Frame) {
	conn, ok := r.registry.LookupConn(to)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("to", string(to)).Msg("target not registered, dropping")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "app.relay").Str("to", string(to)).Msg("send failed, dropping")
	}
}

// SendTo marshals v and forwards it by identity, with Forward's drop
// semantics.
func (r *Relay) SendTo(to domain.UserID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("marshal")
		return
	}
	r.Forward(to, b)
}

// Send marshals v and forwards it to a single connection. Marshal failures
// are a programming error on our own payload types; they are logged, never
// propagated to the peer.
func (r *Relay) Send(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("marshal")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "app.relay").Msg("send failed, dropping")
	}
}

// SendAll fans v out to every listed member connection.
func (r *Relay) SendAll(members []CallMember, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("marshal")
		return
	}
	for _, m := range members {
		if err := m.Conn.TrySend(b); err != nil {
			log.Debug().Err(err).Str("module", "app.relay").Str("to", string(m.Identity)).Msg("send failed, dropping")
		}
	}
}
