package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/peerbridge/peer-app/internal/profile"
)

const (
	// Redis key patterns for the waiting queue.
	keyQueue         = "match:queue"    // Sorted set, score = join timestamp (ms)
	keyEntryPrefix   = "match:entry:"   // + <owner_id> -> Hash
	keyFeelingPrefix = "match:feeling:" // + <feeling> -> Set of owner IDs
	keyEntryIndex    = "match:entries"  // Hash, entry_id -> owner_id
	keySeq           = "match:seq"      // Counter, monotonic enqueue sequence

	// entryTTL bounds how long an abandoned entry's metadata survives. It is
	// sized well above the client polling interval; every connect attempt
	// re-enqueues and therefore refreshes it. The cleanup sweep removes
	// queue members whose metadata expired.
	entryTTL = 2 * time.Minute
)

// RedisStore is the production queue backend.
type RedisStore struct {
	rdb       *redis.Client
	claimPair *redis.Script
}

// NewRedisStore creates a queue store backed by Redis.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		claimPair: redis.NewScript(claimPairLua),
	}
}

// Enqueue removes any existing entry for ownerID and inserts a fresh one.
func (s *RedisStore) Enqueue(ctx context.Context, ownerID string, attrs profile.Attributes) error {
	if err := s.RemoveByOwner(ctx, ownerID); err != nil {
		return err
	}

	entryID := uuid.New().String()
	now := float64(time.Now().UnixMilli())

	// The sequence counter orders entries that share a join millisecond, so
	// FIFO ties resolve by arrival rather than by owner id.
	seq, err := s.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return fmt.Errorf("matching: enqueue %s: %w", ownerID, err)
	}

	pipe := s.rdb.Pipeline()

	pipe.ZAdd(ctx, keyQueue, redis.Z{Score: now, Member: ownerID})

	entryKey := keyEntryPrefix + ownerID
	pipe.HSet(ctx, entryKey, map[string]interface{}{
		"id":        entryID,
		"feeling":   attrs.Feeling,
		"phq9":      attrs.PHQ9,
		"bdi2":      attrs.BDI2,
		"gad7":      attrs.GAD7,
		"dass21":    attrs.DASS21,
		"joined_at": fmt.Sprintf("%.0f", now),
		"seq":       seq,
	})
	pipe.Expire(ctx, entryKey, entryTTL)

	feelingKey := keyFeelingPrefix + attrs.Feeling
	pipe.SAdd(ctx, feelingKey, ownerID)
	pipe.Expire(ctx, feelingKey, entryTTL)

	pipe.HSet(ctx, keyEntryIndex, entryID, ownerID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("matching: enqueue %s: %w", ownerID, err)
	}
	return nil
}

// FindCompatible scans the requester's feeling bucket and returns the oldest
// waiter whose four scores are all within tolerance, or nil.
func (s *RedisStore) FindCompatible(ctx context.Context, ownerID string, attrs profile.Attributes) (*Entry, error) {
	candidates, err := s.rdb.SMembers(ctx, keyFeelingPrefix+attrs.Feeling).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: feeling bucket scan: %w", err)
	}

	var oldest *Entry
	for _, candidateID := range candidates {
		if candidateID == ownerID {
			continue
		}

		entry, err := s.getEntry(ctx, candidateID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue // expired metadata, the cleanup sweep will remove it
		}
		if !Compatible(attrs, entry.Attrs) {
			continue
		}

		// Oldest joined_at wins; equal timestamps fall back to the enqueue
		// sequence so arrival order holds, matching MemoryStore.
		if oldest == nil || entry.JoinedAt < oldest.JoinedAt ||
			(entry.JoinedAt == oldest.JoinedAt && entry.Seq < oldest.Seq) {
			oldest = entry
		}
	}
	return oldest, nil
}

// RemoveByOwner deletes the owner's entry. Removing an absent entry is a
// no-op.
func (s *RedisStore) RemoveByOwner(ctx context.Context, ownerID string) error {
	entry, err := s.getEntry(ctx, ownerID)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, keyQueue, ownerID)
	pipe.Del(ctx, keyEntryPrefix+ownerID)
	if entry != nil {
		pipe.SRem(ctx, keyFeelingPrefix+entry.Attrs.Feeling, ownerID)
		pipe.HDel(ctx, keyEntryIndex, entry.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("matching: remove %s: %w", ownerID, err)
	}
	return nil
}

// RemoveByEntry deletes an entry by its entry id via the entry index.
func (s *RedisStore) RemoveByEntry(ctx context.Context, entryID string) error {
	ownerID, err := s.rdb.HGet(ctx, keyEntryIndex, entryID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matching: entry index lookup: %w", err)
	}
	return s.RemoveByOwner(ctx, ownerID)
}

// ClaimPair atomically removes both sides of a decided pairing. The Lua
// script verifies the peer's entry is still the one FindCompatible returned;
// if it changed (cancelled and re-enqueued in between), nothing is removed.
func (s *RedisStore) ClaimPair(ctx context.Context, peer *Entry, requesterID string) (bool, error) {
	keys := []string{
		keyQueue,
		keyEntryIndex,
		keyEntryPrefix + peer.OwnerID,
		keyFeelingPrefix + peer.Attrs.Feeling,
		keyEntryPrefix + requesterID,
	}
	res, err := s.claimPair.Run(ctx, s.rdb, keys, peer.OwnerID, peer.ID, requesterID).Int()
	if err != nil {
		return false, fmt.Errorf("matching: claim pair: %w", err)
	}
	return res == 1, nil
}

// Size returns the number of waiting entries.
func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, keyQueue).Result()
}

// RemoveStale drops queue members whose entry metadata expired, and prunes
// dangling entry-index rows. Returns the number of members removed.
func (s *RedisStore) RemoveStale(ctx context.Context) (int, error) {
	ownerIDs, err := s.rdb.ZRange(ctx, keyQueue, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("matching: stale sweep: %w", err)
	}

	removed := 0
	for _, ownerID := range ownerIDs {
		exists, err := s.rdb.Exists(ctx, keyEntryPrefix+ownerID).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			if err := s.rdb.ZRem(ctx, keyQueue, ownerID).Err(); err == nil {
				removed++
			}
		}
	}

	// Prune index rows pointing at owners whose entry hash is gone or has
	// been superseded by a newer entry id.
	index, err := s.rdb.HGetAll(ctx, keyEntryIndex).Result()
	if err != nil {
		return removed, nil
	}
	for entryID, ownerID := range index {
		current, err := s.rdb.HGet(ctx, keyEntryPrefix+ownerID, "id").Result()
		if err == redis.Nil || (err == nil && current != entryID) {
			s.rdb.HDel(ctx, keyEntryIndex, entryID)
		}
	}
	return removed, nil
}

func (s *RedisStore) getEntry(ctx context.Context, ownerID string) (*Entry, error) {
	result, err := s.rdb.HGetAll(ctx, keyEntryPrefix+ownerID).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: get entry %s: %w", ownerID, err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	entry := &Entry{
		ID:      result["id"],
		OwnerID: ownerID,
		Attrs: profile.Attributes{
			Feeling: result["feeling"],
			PHQ9:    atoi(result["phq9"]),
			BDI2:    atoi(result["bdi2"]),
			GAD7:    atoi(result["gad7"]),
			DASS21:  atoi(result["dass21"]),
		},
	}
	entry.JoinedAt, _ = strconv.ParseFloat(result["joined_at"], 64)
	entry.Seq, _ = strconv.ParseInt(result["seq"], 10, 64)
	return entry, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// claimPairLua removes the peer's entry and the requester's entry in one
// atomic step, guarded on the peer's entry id still matching. Either both
// removals commit or neither does.
const claimPairLua = `
local queue = KEYS[1]
local index = KEYS[2]
local peer_entry = KEYS[3]
local feeling_set = KEYS[4]
local req_entry = KEYS[5]

local peer_owner = ARGV[1]
local peer_id = ARGV[2]
local req_owner = ARGV[3]

local id = redis.call('HGET', peer_entry, 'id')
if not id or id ~= peer_id then return 0 end

redis.call('ZREM', queue, peer_owner)
redis.call('DEL', peer_entry)
redis.call('SREM', feeling_set, peer_owner)
redis.call('HDEL', index, peer_id)

local req_id = redis.call('HGET', req_entry, 'id')
redis.call('ZREM', queue, req_owner)
redis.call('DEL', req_entry)
redis.call('SREM', feeling_set, req_owner)
if req_id then redis.call('HDEL', index, req_id) end

return 1
`
