package matching

import (
	"context"
	"log"
	"time"
)

const cleanupInterval = 30 * time.Second

// StartCleanup runs a background loop that removes queue members whose entry
// metadata has expired (students that stopped polling without cancelling).
// It returns when ctx is cancelled. Only the Redis store needs sweeping; the
// memory store has no TTL-expired metadata to orphan.
func StartCleanup(ctx context.Context, store *RedisStore) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[matcher] cleanup loop stopped")
			return
		case <-ticker.C:
			removed, err := store.RemoveStale(ctx)
			if err != nil {
				log.Printf("[matcher] cleanup: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("[matcher] cleanup: removed %d stale entries", removed)
			}
		}
	}
}
