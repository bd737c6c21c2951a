package room

import (
	"log"
	"sync"
	"time"

	"github.com/peerbridge/peer-app/internal/events"
	"github.com/peerbridge/peer-app/internal/metrics"
	"github.com/peerbridge/peer-app/internal/protocol"
)

// DefaultSessionDuration is how long an active session lives before the
// expiry timer ends it.
const DefaultSessionDuration = 20 * time.Minute

// tombstoneTTL is how long a terminated room id stays known so that a late
// join is rejected instead of silently creating a fresh one-person room.
const tombstoneTTL = time.Minute

// Registry owns all live rooms. A single mutex serializes every lifecycle
// transition so that a session terminates exactly once, no matter whether the
// timer, a leave, or a disconnect fires first.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	byConn   map[string]*Room // connection id -> room the connection is in
	duration time.Duration
	events   events.Publisher
}

// NewRegistry creates a room registry. Sessions live for duration once both
// participants have joined.
func NewRegistry(duration time.Duration, pub events.Publisher) *Registry {
	if duration <= 0 {
		duration = DefaultSessionDuration
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		byConn:   make(map[string]*Room),
		duration: duration,
		events:   pub,
	}
}

// Join adds a participant to the room, creating it on first join. The second
// distinct join activates the session and arms the expiry timer. Returns the
// number of participants now present.
func (g *Registry) Join(roomID, connID string, p Sender) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		r = &Room{
			id:           roomID,
			state:        StateEmpty,
			participants: make(map[string]Sender, 2),
			createdAt:    time.Now(),
		}
		g.rooms[roomID] = r
		metrics.ActiveRooms.Inc()
	}

	if r.state == StateTerminated {
		return 0, ErrRoomClosed
	}

	if _, present := r.participants[connID]; present {
		// Rejoining is a no-op; the connection is already a participant.
		return len(r.participants), nil
	}
	if len(r.participants) >= 2 {
		return 0, ErrRoomFull
	}

	r.participants[connID] = p
	g.byConn[connID] = r

	switch len(r.participants) {
	case 1:
		r.state = StateAwaitingSecond
	case 2:
		r.state = StateActive
		r.activatedAt = time.Now()
		r.timer = time.AfterFunc(g.duration, func() { g.expire(roomID) })
		g.events.SessionStarted(roomID)
		log.Printf("[room] %s active, expires in %s", roomID, g.duration)
	}

	return len(r.participants), nil
}

// Leave removes the connection from its room, if any. Leaving an active or
// half-joined room ends the session with reason "peer_left"; the remaining
// participant, if any, is notified. Safe to call for connections that never
// joined a room.
func (g *Registry) Leave(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.byConn[connID]
	if !ok {
		return
	}
	g.terminateLocked(r, connID, protocol.ReasonPeerLeft)
}

// Relay validates a text message and delivers it to the sender's room peer,
// tagged with the sender's connection id and a server-assigned timestamp.
func (g *Registry) Relay(connID, roomID, text string) error {
	if err := ValidateMessage(text); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := g.memberLocked(connID, roomID)
	if err != nil {
		return err
	}
	if r == nil {
		return nil // room already torn down
	}

	peerID, peer, ok := r.peerOf(connID)
	if !ok {
		return ErrNotActive
	}
	data, err := protocol.NewServerMessage(protocol.TypePeerMessage, protocol.PeerMessageMsg{
		From: connID,
		Text: text,
		Ts:   time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := peer.Send(data); err != nil {
		log.Printf("[room] %s: relay to %s failed: %v", roomID, peerID, err)
		return err
	}

	metrics.RelayedTotal.WithLabelValues("message").Inc()
	return nil
}

// Typing forwards a typing indicator to the sender's room peer. Indicators
// are most-recent-wins and carry no timestamp.
func (g *Registry) Typing(connID, roomID string, isTyping bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := g.memberLocked(connID, roomID)
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}

	_, peer, ok := r.peerOf(connID)
	if !ok {
		return ErrNotActive
	}
	data, err := protocol.NewServerMessage(protocol.TypePeerTyping, protocol.PeerTypingMsg{
		From:     connID,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	if err := peer.Send(data); err != nil {
		return err
	}

	metrics.RelayedTotal.WithLabelValues("typing").Inc()
	return nil
}

// ActiveCount returns the number of live (non-terminated) rooms.
func (g *Registry) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, r := range g.rooms {
		if r.state != StateTerminated {
			n++
		}
	}
	return n
}

// Shutdown ends every live session with the given reason. Used during
// graceful server shutdown.
func (g *Registry) Shutdown(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.rooms {
		g.terminateLocked(r, "", reason)
	}
}

// memberLocked resolves the room and checks the connection is an active
// participant of it. A gone or terminated room yields (nil, nil): late
// operations after teardown are no-ops, not errors. Caller holds g.mu.
func (g *Registry) memberLocked(connID, roomID string) (*Room, error) {
	r, ok := g.rooms[roomID]
	if !ok || r.state == StateTerminated {
		return nil, nil
	}
	if _, present := r.participants[connID]; !present {
		return nil, ErrNotInRoom
	}
	if r.state != StateActive {
		return nil, ErrNotActive
	}
	return r, nil
}

// expire is the timer callback; it ends the session with reason "timeout".
func (g *Registry) expire(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return // already terminated by a leave or disconnect
	}
	g.terminateLocked(r, "", protocol.ReasonTimeout)
}

// terminateLocked transitions the room to terminated, stops the timer, and
// notifies every participant except the initiator. Caller holds g.mu. The
// state check makes termination exactly-once: a timer firing concurrently
// with a leave finds the room already gone.
func (g *Registry) terminateLocked(r *Room, initiatorConnID, reason string) {
	if r.state == StateTerminated {
		return
	}
	wasActive := r.state == StateActive
	r.state = StateTerminated

	if r.timer != nil {
		r.timer.Stop()
	}

	data, err := protocol.NewServerMessage(protocol.TypeSessionEnded, protocol.SessionEndedMsg{Reason: reason})
	if err != nil {
		log.Printf("[room] %s: encode session_ended: %v", r.id, err)
	}

	for connID, p := range r.participants {
		delete(g.byConn, connID)
		if connID == initiatorConnID || data == nil {
			continue
		}
		if err := p.Send(data); err != nil {
			log.Printf("[room] %s: notify %s: %v", r.id, connID, err)
		}
	}
	r.participants = nil

	// The id lingers as a tombstone so a late join sees ErrRoomClosed.
	time.AfterFunc(tombstoneTTL, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if cur, ok := g.rooms[r.id]; ok && cur.state == StateTerminated {
			delete(g.rooms, r.id)
		}
	})

	metrics.ActiveRooms.Dec()
	if wasActive {
		metrics.SessionsEnded.WithLabelValues(reason).Inc()
		g.events.SessionEnded(r.id, reason)
	}
	log.Printf("[room] %s terminated (%s)", r.id, reason)
}
