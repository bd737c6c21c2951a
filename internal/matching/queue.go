// Package matching implements the waiting queue and the pairing algorithm.
// Students wait in a queue keyed by owner; a connect attempt pairs the
// requester with the oldest compatible waiter. Compatibility is a hard
// equality on the feeling tag plus a proximity check on all four screening
// scores.
package matching

import (
	"context"

	"github.com/peerbridge/peer-app/internal/profile"
)

// ScoreTolerance is the maximum absolute distance, per screening score, for
// two students to be considered compatible. All four scores must be within
// tolerance simultaneously.
const ScoreTolerance = 5

// Entry represents a student's place in the waiting queue.
type Entry struct {
	ID       string             // unique entry id, distinct from the owner
	OwnerID  string             // student identifier; at most one live entry per owner
	Attrs    profile.Attributes // attributes captured at enqueue time
	JoinedAt float64            // unix timestamp in milliseconds
	Seq      int64              // monotonic enqueue sequence, breaks JoinedAt ties
}

// Store is the queue backend. Implementations must keep the one-live-entry-
// per-owner invariant and treat removals of absent entries as no-ops.
type Store interface {
	// Enqueue inserts a fresh entry for ownerID, superseding any existing
	// entry for the same owner.
	Enqueue(ctx context.Context, ownerID string, attrs profile.Attributes) error

	// FindCompatible returns the oldest compatible entry excluding the
	// requester, or nil when no waiter is compatible. It does not mutate
	// the queue.
	FindCompatible(ctx context.Context, ownerID string, attrs profile.Attributes) (*Entry, error)

	// RemoveByOwner deletes the owner's entry if present.
	RemoveByOwner(ctx context.Context, ownerID string) error

	// RemoveByEntry deletes an entry by its entry id if present.
	RemoveByEntry(ctx context.Context, entryID string) error

	// ClaimPair removes the peer's entry (by id) and the requester's entry
	// (by owner) as one all-or-nothing operation. It returns false when the
	// peer's entry is no longer the one that was found, in which case
	// nothing is removed and the requester keeps waiting.
	ClaimPair(ctx context.Context, peer *Entry, requesterID string) (bool, error)

	// Size returns the number of waiting entries.
	Size(ctx context.Context) (int64, error)
}

// Compatible reports whether two attribute sets may be paired: equal feeling
// tags and every screening score within ScoreTolerance. One out-of-range
// score disqualifies the pair.
func Compatible(a, b profile.Attributes) bool {
	if a.Feeling != b.Feeling {
		return false
	}
	as, bs := a.Scores(), b.Scores()
	for i := range as {
		if absDiff(as[i], bs[i]) > ScoreTolerance {
			return false
		}
	}
	return true
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
