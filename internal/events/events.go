// Package events publishes coordinator lifecycle events over NATS so that
// external tooling (dashboards, the monitor binary) can observe matching and
// session activity without touching coordinator state. Message content is
// never published, only lifecycle facts.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects emitted by the coordinator.
const (
	SubjectMatchMade      = "peer.match.made"
	SubjectSessionStarted = "peer.session.started"
	SubjectSessionEnded   = "peer.session.ended"
	SubjectQueueCancelled = "peer.queue.cancelled"

	// SubjectWildcard subscribes to every coordinator event.
	SubjectWildcard = "peer.>"
)

// MatchMadeEvent is published when two students are paired.
type MatchMadeEvent struct {
	RoomID string `json:"room_id"`
	PeerA  string `json:"peer_a"`
	PeerB  string `json:"peer_b"`
	Ts     int64  `json:"ts"`
}

// SessionEvent is published on session start and end. Reason is empty for
// session starts.
type SessionEvent struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason,omitempty"`
	Ts     int64  `json:"ts"`
}

// CancelEvent is published when a waiting student gives up.
type CancelEvent struct {
	StudentID string `json:"student_id"`
	Ts        int64  `json:"ts"`
}

// Publisher is the event sink the coordinator writes to.
type Publisher interface {
	MatchMade(roomID, peerA, peerB string)
	SessionStarted(roomID string)
	SessionEnded(roomID, reason string)
	QueueCancelled(studentID string)
	Close()
}

// NATSPublisher publishes events to a NATS server.
type NATSPublisher struct {
	conn *nats.Conn
}

// Connect establishes a NATS connection with infinite reconnects and returns
// a publisher. It returns an error if the initial connection fails.
func Connect(url, name string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[nats] marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// MatchMade publishes a pairing event.
func (p *NATSPublisher) MatchMade(roomID, peerA, peerB string) {
	p.publish(SubjectMatchMade, MatchMadeEvent{
		RoomID: roomID, PeerA: peerA, PeerB: peerB, Ts: time.Now().Unix(),
	})
}

// SessionStarted publishes a session activation event.
func (p *NATSPublisher) SessionStarted(roomID string) {
	p.publish(SubjectSessionStarted, SessionEvent{RoomID: roomID, Ts: time.Now().Unix()})
}

// SessionEnded publishes a session termination event with its reason.
func (p *NATSPublisher) SessionEnded(roomID, reason string) {
	p.publish(SubjectSessionEnded, SessionEvent{RoomID: roomID, Reason: reason, Ts: time.Now().Unix()})
}

// QueueCancelled publishes a voluntary dequeue event.
func (p *NATSPublisher) QueueCancelled(studentID string) {
	p.publish(SubjectQueueCancelled, CancelEvent{StudentID: studentID, Ts: time.Now().Unix()})
}

// Close drains the NATS connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] drain: %v", err)
	}
}

// Nop is a Publisher that discards all events. Used when NATS is not
// configured, and in tests.
type Nop struct{}

func (Nop) MatchMade(string, string, string) {}
func (Nop) SessionStarted(string)            {}
func (Nop) SessionEnded(string, string)      {}
func (Nop) QueueCancelled(string)            {}
func (Nop) Close()                           {}
