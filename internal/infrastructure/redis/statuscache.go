package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache is a short-TTL cache in front of the kiosk status poller.
// Kiosks poll every couple of seconds while the customer stands at the
// provider checkout; the cache absorbs that read load. Entries are
// invalidated on every webhook mutation, so a terminal status is visible on
// the next poll at the latest.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache creates a status cache with the given entry TTL.
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &StatusCache{client: client, ttl: ttl}
}

func statusKey(orderID string) string {
	return fmt.Sprintf("status:%s", orderID)
}

// Get returns the cached status payload for the order, or ("", false) on miss.
// Cache errors degrade to a miss; the store stays authoritative.
func (c *StatusCache) Get(ctx context.Context, orderID string) (string, bool) {
	val, err := c.client.Get(ctx, statusKey(orderID)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores the serialized status payload for the order.
func (c *StatusCache) Set(ctx context.Context, orderID, payload string) {
	c.client.Set(ctx, statusKey(orderID), payload, c.ttl)
}

// Invalidate drops the cached payload after a webhook mutated the record.
func (c *StatusCache) Invalidate(ctx context.Context, orderID string) {
	c.client.Del(ctx, statusKey(orderID))
}
