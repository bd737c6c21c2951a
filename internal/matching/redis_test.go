package matching

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupRedisStore creates a RedisStore connected to a test Redis instance.
// Requires Redis running on localhost:6379. Tests are skipped if unavailable.
func setupRedisStore(t *testing.T) (*RedisStore, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	// Flush test DB before each test.
	rdb.FlushDB(ctx)

	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return NewRedisStore(rdb), ctx
}

func TestRedisStore_EnqueueAndFind(t *testing.T) {
	store, ctx := setupRedisStore(t)

	a := attrs("stress", [4]int{10, 20, 8, 15})
	b := attrs("stress", [4]int{12, 22, 9, 17})

	if err := store.Enqueue(ctx, "alice", a); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	found, err := store.FindCompatible(ctx, "bob", b)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found == nil {
		t.Fatal("expected to find alice, got nil")
	}
	if found.OwnerID != "alice" {
		t.Errorf("expected owner alice, got %s", found.OwnerID)
	}
	if found.Attrs.Feeling != "stress" || found.Attrs.PHQ9 != 10 {
		t.Errorf("entry attributes did not round-trip: %+v", found.Attrs)
	}
}

func TestRedisStore_FindRespectsToleranceAndFeeling(t *testing.T) {
	store, ctx := setupRedisStore(t)

	store.Enqueue(ctx, "alice", attrs("stress", [4]int{10, 10, 10, 10}))

	// Out of tolerance on one score.
	found, err := store.FindCompatible(ctx, "bob", attrs("stress", [4]int{10, 10, 10, 16}))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found != nil {
		t.Fatal("out-of-tolerance candidate should not match")
	}

	// Different feeling bucket.
	found, err = store.FindCompatible(ctx, "bob", attrs("anxiety", [4]int{10, 10, 10, 10}))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found != nil {
		t.Fatal("different feeling should not match")
	}
}

func TestRedisStore_EnqueueSupersedes(t *testing.T) {
	store, ctx := setupRedisStore(t)

	store.Enqueue(ctx, "alice", attrs("stress", [4]int{1, 1, 1, 1}))
	store.Enqueue(ctx, "alice", attrs("anxiety", [4]int{2, 2, 2, 2}))

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected 1 entry after supersede, got %d", size)
	}

	// The old feeling bucket no longer yields alice.
	found, err := store.FindCompatible(ctx, "bob", attrs("stress", [4]int{1, 1, 1, 1}))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found != nil {
		t.Fatal("superseded entry should not be findable under the old feeling")
	}
}

func TestRedisStore_EqualJoinTimesKeepArrivalOrder(t *testing.T) {
	store, ctx := setupRedisStore(t)
	a := attrs("stress", [4]int{10, 10, 10, 10})

	// zara arrives first but sorts after amy lexically: arrival order, not
	// owner id, must decide the tie.
	store.Enqueue(ctx, "zara", a)
	store.Enqueue(ctx, "amy", a)

	// Force both joins into the same millisecond.
	for _, owner := range []string{"zara", "amy"} {
		if err := store.rdb.HSet(ctx, keyEntryPrefix+owner, "joined_at", "1000").Err(); err != nil {
			t.Fatalf("hset failed: %v", err)
		}
	}

	found, err := store.FindCompatible(ctx, "alice", a)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found == nil || found.OwnerID != "zara" {
		t.Fatalf("expected the first arrival (zara), got %+v", found)
	}
}

func TestRedisStore_ClaimPairRemovesBothSides(t *testing.T) {
	store, ctx := setupRedisStore(t)
	a := attrs("stress", [4]int{10, 10, 10, 10})

	store.Enqueue(ctx, "alice", a)
	store.Enqueue(ctx, "bob", a)

	peer, err := store.FindCompatible(ctx, "alice", a)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if peer == nil {
		t.Fatal("expected to find bob")
	}

	claimed, err := store.ClaimPair(ctx, peer, "alice")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected claim to succeed")
	}

	size, _ := store.Size(ctx)
	if size != 0 {
		t.Fatalf("expected empty queue after claim, got %d", size)
	}
	found, _ := store.FindCompatible(ctx, "carol", a)
	if found != nil {
		t.Fatal("claimed entries must not be findable")
	}
}

func TestRedisStore_ClaimPairGuardsStaleEntry(t *testing.T) {
	store, ctx := setupRedisStore(t)
	a := attrs("stress", [4]int{10, 10, 10, 10})

	store.Enqueue(ctx, "alice", a)
	store.Enqueue(ctx, "bob", a)

	peer, _ := store.FindCompatible(ctx, "alice", a)

	// Bob re-enqueues before the claim lands: the entry id changed.
	store.Enqueue(ctx, "bob", a)

	claimed, err := store.ClaimPair(ctx, peer, "alice")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed {
		t.Fatal("claim against a superseded entry must fail")
	}

	size, _ := store.Size(ctx)
	if size != 2 {
		t.Fatalf("failed claim must remove nothing, queue size=%d", size)
	}
}

func TestRedisStore_RemoveByOwnerIdempotent(t *testing.T) {
	store, ctx := setupRedisStore(t)

	if err := store.RemoveByOwner(ctx, "nobody"); err != nil {
		t.Errorf("removing an absent owner should be a no-op, got %v", err)
	}

	store.Enqueue(ctx, "alice", attrs("stress", [4]int{1, 1, 1, 1}))
	if err := store.RemoveByOwner(ctx, "alice"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := store.RemoveByOwner(ctx, "alice"); err != nil {
		t.Errorf("second remove should be a no-op, got %v", err)
	}

	size, _ := store.Size(ctx)
	if size != 0 {
		t.Fatalf("expected empty queue, got %d", size)
	}
}

func TestRedisStore_RemoveStale(t *testing.T) {
	store, ctx := setupRedisStore(t)

	store.Enqueue(ctx, "alice", attrs("stress", [4]int{1, 1, 1, 1}))

	// Simulate TTL expiry of the entry metadata.
	if err := store.rdb.Del(ctx, keyEntryPrefix+"alice").Err(); err != nil {
		t.Fatalf("del failed: %v", err)
	}

	removed, err := store.RemoveStale(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 stale member removed, got %d", removed)
	}

	size, _ := store.Size(ctx)
	if size != 0 {
		t.Fatalf("expected empty queue after sweep, got %d", size)
	}
}
