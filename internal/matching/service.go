package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/peerbridge/peer-app/internal/events"
	"github.com/peerbridge/peer-app/internal/metrics"
	"github.com/peerbridge/peer-app/internal/profile"
	"github.com/peerbridge/peer-app/internal/rendezvous"
)

// ErrRequesterNotFound is returned when the profile lookup for the requester
// fails; no state is mutated in that case.
var ErrRequesterNotFound = errors.New("matching: requester not found")

// Directory yields the matching attributes for a student. Satisfied by
// *profile.Store in production.
type Directory interface {
	GetAttributes(ctx context.Context, studentID string) (*profile.Attributes, error)
}

// Result is the outcome of one connect attempt. When Matched is false the
// caller is waiting and expected to poll again.
type Result struct {
	Matched bool
	RoomID  string
	PeerID  string
}

// Service brokers connect attempts. A single ordering mutex serializes the
// rendezvous-check + search + claim + stage sequence so that two concurrent
// callers cannot both believe they matched the same third party.
type Service struct {
	mu        sync.Mutex
	store     Store
	pending   *rendezvous.Table
	directory Directory
	events    events.Publisher
}

// NewService creates a matching service over the given queue store, profile
// directory, rendezvous table, and event sink.
func NewService(store Store, directory Directory, pending *rendezvous.Table, pub events.Publisher) *Service {
	return &Service{
		store:     store,
		pending:   pending,
		directory: directory,
		events:    pub,
	}
}

// Connect runs one connect attempt for the given student.
//
// The staged-result check runs before any queue mutation: if a concurrent
// attempt by a compatible peer already brokered this student's match, that
// decision is consumed and returned as-is. Otherwise the student's queue
// presence is refreshed and a compatible peer is searched for. On a match the
// requester receives the result inline and the peer's copy is staged in the
// rendezvous table for its next poll.
func (s *Service) Connect(ctx context.Context, studentID string) (Result, error) {
	timer := prometheus.NewTimer(metrics.ConnectLatency)
	defer timer.ObserveDuration()

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.pending.Take(studentID); ok {
		log.Printf("[matcher] staged match delivered to %s (room=%s peer=%s)", studentID, m.RoomID, m.PeerID)
		return Result{Matched: true, RoomID: m.RoomID, PeerID: m.PeerID}, nil
	}

	attrs, err := s.directory.GetAttributes(ctx, studentID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return Result{}, ErrRequesterNotFound
		}
		return Result{}, fmt.Errorf("matching: profile lookup for %s: %w", studentID, err)
	}

	// Refresh queue presence: any stale entry for this student is superseded.
	if err := s.store.Enqueue(ctx, studentID, *attrs); err != nil {
		return Result{}, err
	}

	peer, err := s.store.FindCompatible(ctx, studentID, *attrs)
	if err != nil {
		return Result{}, err
	}
	if peer == nil {
		s.updateQueueGauge(ctx)
		return Result{}, nil
	}

	claimed, err := s.store.ClaimPair(ctx, peer, studentID)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		// The peer's entry changed between search and claim; nothing was
		// removed and the requester stays queued.
		s.updateQueueGauge(ctx)
		return Result{}, nil
	}

	roomID := "room-" + uuid.New().String()
	s.pending.Put(studentID, peer.OwnerID, roomID)

	metrics.MatchesTotal.Inc()
	s.updateQueueGauge(ctx)
	s.events.MatchMade(roomID, studentID, peer.OwnerID)
	log.Printf("[matcher] paired %s with %s in %s", studentID, peer.OwnerID, roomID)

	return Result{Matched: true, RoomID: roomID, PeerID: peer.OwnerID}, nil
}

// Cancel removes the student's queue entry. Cancelling when not queued is a
// no-op; an already-decided pairing is unaffected.
func (s *Service) Cancel(ctx context.Context, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.RemoveByOwner(ctx, studentID); err != nil {
		return err
	}
	s.updateQueueGauge(ctx)
	s.events.QueueCancelled(studentID)
	log.Printf("[matcher] %s cancelled waiting", studentID)
	return nil
}

func (s *Service) updateQueueGauge(ctx context.Context) {
	if size, err := s.store.Size(ctx); err == nil {
		metrics.QueueSize.Set(float64(size))
	}
}
