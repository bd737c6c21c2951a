// Package room manages ephemeral two-person session rooms: the lifecycle
// state machine, the session expiry timer, and realtime relay of messages
// and typing indicators between the two participants.
package room

import (
	"errors"
	"time"
)

// Room lifecycle states.
const (
	StateEmpty          = "empty"
	StateAwaitingSecond = "awaiting_second"
	StateActive         = "active"
	StateTerminated     = "terminated"
)

var (
	// ErrRoomFull is returned when a third distinct connection tries to join.
	ErrRoomFull = errors.New("room: room is full")

	// ErrRoomClosed is returned when joining a room that already terminated.
	ErrRoomClosed = errors.New("room: room is closed")

	// ErrNotInRoom is returned when a connection acts on a room it is not a
	// participant of.
	ErrNotInRoom = errors.New("room: connection is not in this room")

	// ErrNotActive is returned when relaying into a room that is not yet, or
	// no longer, active.
	ErrNotActive = errors.New("room: session is not active")
)

// Sender is one end of a room: something that can receive serialized server
// messages. Satisfied by *ws.Connection in production.
type Sender interface {
	Send(data []byte) error
}

// Room is a two-person session. All mutation goes through the Registry,
// which serializes access; the struct itself carries no lock.
type Room struct {
	id           string
	state        string
	participants map[string]Sender // connection id -> participant
	timer        *time.Timer       // armed when the session activates
	createdAt    time.Time
	activatedAt  time.Time
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// State returns the current lifecycle state.
func (r *Room) State() string { return r.state }

// peerOf returns the other participant's id and sender, or ok=false when
// alone.
func (r *Room) peerOf(connID string) (string, Sender, bool) {
	for id, p := range r.participants {
		if id != connID {
			return id, p, true
		}
	}
	return "", nil, false
}
