package matching

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerbridge/peer-app/internal/profile"
)

// MemoryStore is an in-process queue backend. It is used when Redis is not
// configured (development) and as the isolated backing store in tests. The
// semantics mirror RedisStore exactly, minus TTL-based expiry.
type MemoryStore struct {
	mu      sync.Mutex
	byOwner map[string]*Entry
	byID    map[string]string // entry id -> owner id
	seq     int64
}

// NewMemoryStore creates an empty in-memory queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byOwner: make(map[string]*Entry),
		byID:    make(map[string]string),
	}
}

// Enqueue removes any existing entry for ownerID and inserts a fresh one.
func (s *MemoryStore) Enqueue(ctx context.Context, ownerID string, attrs profile.Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeOwnerLocked(ownerID)

	s.seq++
	entry := &Entry{
		ID:       uuid.New().String(),
		OwnerID:  ownerID,
		Attrs:    attrs,
		JoinedAt: float64(time.Now().UnixMilli()),
		Seq:      s.seq,
	}
	s.byOwner[ownerID] = entry
	s.byID[entry.ID] = ownerID
	return nil
}

// FindCompatible returns the oldest compatible waiter excluding the
// requester, or nil. Entries with equal join timestamps keep arrival order
// via the enqueue sequence, the same policy RedisStore applies.
func (s *MemoryStore) FindCompatible(ctx context.Context, ownerID string, attrs profile.Attributes) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Entry
	for candidateID, entry := range s.byOwner {
		if candidateID == ownerID {
			continue
		}
		if !Compatible(attrs, entry.Attrs) {
			continue
		}
		if oldest == nil || entry.JoinedAt < oldest.JoinedAt ||
			(entry.JoinedAt == oldest.JoinedAt && entry.Seq < oldest.Seq) {
			oldest = entry
		}
	}
	if oldest == nil {
		return nil, nil
	}
	out := *oldest
	return &out, nil
}

// RemoveByOwner deletes the owner's entry if present.
func (s *MemoryStore) RemoveByOwner(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeOwnerLocked(ownerID)
	return nil
}

// RemoveByEntry deletes an entry by entry id if present.
func (s *MemoryStore) RemoveByEntry(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ownerID, ok := s.byID[entryID]; ok {
		s.removeOwnerLocked(ownerID)
	}
	return nil
}

// ClaimPair removes both sides of a decided pairing, guarded on the peer's
// entry id still matching.
func (s *MemoryStore) ClaimPair(ctx context.Context, peer *Entry, requesterID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byOwner[peer.OwnerID]
	if !ok || current.ID != peer.ID {
		return false, nil
	}
	s.removeOwnerLocked(peer.OwnerID)
	s.removeOwnerLocked(requesterID)
	return true, nil
}

// Size returns the number of waiting entries.
func (s *MemoryStore) Size(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byOwner)), nil
}

func (s *MemoryStore) removeOwnerLocked(ownerID string) {
	if entry, ok := s.byOwner[ownerID]; ok {
		delete(s.byID, entry.ID)
		delete(s.byOwner, ownerID)
	}
}
