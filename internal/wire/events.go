// Package wire defines the JSON event contracts carried over the signaling
// channel. Both the server adapter and the Go client speak these types; the
// negotiation payloads themselves (offer/answer/candidate) stay opaque
// json.RawMessage so the relay never interprets them.
package wire

import (
	"encoding/json"

	"github.com/avolkov/huddle/internal/domain"
)

const (
	TypeJoinRoom  = "joinRoom"
	TypeJoinCall  = "joinCall"
	TypeLeaveCall = "leaveCall"

	TypeExistingParticipants = "existingParticipants"
	TypeUserJoined           = "userJoined"
	TypeUserLeft             = "userLeft"

	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"

	TypeSendMessage    = "sendMessage"
	TypeReceiveMessage = "receiveMessage"

	TypeDraw        = "draw"
	TypeSyncCanvas  = "syncCanvas"
	TypeClearCanvas = "clearCanvas"

	// Hand-tracking whiteboard overlay, a second draw channel with its own
	// clear event.
	TypeHandDraw        = "hand-draw"
	TypeHandClearCanvas = "clear-canvas"

	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// Peek extracts only the type discriminator so the dispatcher can route the
// raw frame to a handler.
func Peek(data []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// Presence carries room- and call-level membership announcements
// (joinRoom / joinCall / leaveCall).
type Presence struct {
	Type        string        `json:"type"`
	Room        domain.RoomID `json:"room"`
	Identity    domain.UserID `json:"identity"`
	DisplayName string        `json:"displayName"`
}

// Participant is one call member as seen in membership events.
type Participant struct {
	Identity    domain.UserID `json:"identity"`
	DisplayName string        `json:"displayName"`
}

// ExistingParticipants is sent once, to a joiner only, listing everyone
// already in the call at the moment of joining.
type ExistingParticipants struct {
	Type         string        `json:"type"`
	Participants []Participant `json:"participants"`
}

// MembershipDelta is broadcast to the rest of the call on join/leave
// (userJoined / userLeft).
type MembershipDelta struct {
	Type        string        `json:"type"`
	Identity    domain.UserID `json:"identity"`
	DisplayName string        `json:"displayName"`
}

// Signal is a negotiation message (offer / answer / ice-candidate).
// Clients address it with To; the relay rewrites it to carry From.
type Signal struct {
	Type      string          `json:"type"`
	To        domain.UserID   `json:"to,omitempty"`
	From      domain.UserID   `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Payload returns whichever negotiation body this signal carries.
func (s *Signal) Payload() json.RawMessage {
	switch s.Type {
	case TypeOffer:
		return s.Offer
	case TypeAnswer:
		return s.Answer
	default:
		return s.Candidate
	}
}

// ChatMessage is sent by a client (sendMessage) and broadcast back to the
// whole room as receiveMessage.
type ChatMessage struct {
	Type        string        `json:"type"`
	Room        domain.RoomID `json:"room"`
	Content     string        `json:"content"`
	Identity    domain.UserID `json:"identity"`
	DisplayName string        `json:"displayName"`
	Timestamp   int64         `json:"timestamp,omitempty"`
}

// Error reports a request the server refused (unknown room, bad payload).
type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(msg string) Error {
	return Error{Type: TypeError, Error: msg}
}
