// Package rendezvous delivers a decided match to the party that did not
// trigger the matching decision. The matching transaction happens inside
// exactly one connect request, but both students poll independently: the
// initiator gets its result inline, the peer collects the staged record here
// on its next poll.
//
// The table is deliberately process-local and transient. Records live only
// between the instant a match is decided and the instant the slower party's
// poll consumes them.
package rendezvous

import "sync"

// Match is a decided pairing staged for one party.
type Match struct {
	RoomID string
	PeerID string
}

// Table is a thread-safe mailbox keyed by student identifier. Two records are
// staged per match, one for each party, symmetric by construction.
type Table struct {
	mu      sync.Mutex
	byOwner map[string]Match
}

// NewTable creates an empty rendezvous table.
func NewTable() *Table {
	return &Table{byOwner: make(map[string]Match)}
}

// Put stages a decided match for both parties: ownerA's record points at
// ownerB and vice versa, sharing the same room.
func (t *Table) Put(ownerA, ownerB, roomID string) {
	t.mu.Lock()
	t.byOwner[ownerA] = Match{RoomID: roomID, PeerID: ownerB}
	t.byOwner[ownerB] = Match{RoomID: roomID, PeerID: ownerA}
	t.mu.Unlock()
}

// Take atomically removes and returns the staged match for ownerID, if any.
// On a successful take the counterpart record keyed by the peer is also
// invalidated, but only if it still points back at ownerID. A later,
// unrelated match may have overwritten that slot, and that record must
// survive. This prevents a party from retrieving a stale room after the
// pairing has already been consumed.
func (t *Table) Take(ownerID string) (Match, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.byOwner[ownerID]
	if !ok {
		return Match{}, false
	}
	delete(t.byOwner, ownerID)

	if counterpart, ok := t.byOwner[m.PeerID]; ok && counterpart.PeerID == ownerID {
		delete(t.byOwner, m.PeerID)
	}
	return m, true
}

// Len returns the number of staged records, for metrics and tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byOwner)
}
