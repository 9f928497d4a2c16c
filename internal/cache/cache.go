// Package cache is a thin namespaced key-value layer over redis. The
// consumer uses it to remember deliveries whose workflow run already
// fired, so an at-least-once redelivery does not double-trigger CI.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
}

func New(namespace string, redisCl redis.UniversalClient) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     redisCl,
	}
}

// Get value from redis; redis.Nil when absent.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	cmd := c.Redis.Get(ctx, c.Namespace+":"+key)
	return cmd.Val(), cmd.Err()
}

// Store value with a ttl in seconds.
func (c *Cache) Store(ctx context.Context, key string, ttl int, value string) error {
	return c.Redis.Set(ctx, c.Namespace+":"+key, value, time.Duration(ttl)*time.Second).Err()
}
