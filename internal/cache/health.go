package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNilClient is returned by Check when the checker has no client.
var ErrNilClient = errors.New("redis client is nil")

// HealthChecker reports whether the invalidation bus is usable: Redis
// answers and accepts pub/sub introspection on the bus channel.
type HealthChecker struct {
	client  *redis.Client
	channel string
}

// NewHealthChecker returns a checker for the bus on channel.
func NewHealthChecker(client *redis.Client, channel string) *HealthChecker {
	return &HealthChecker{client: client, channel: channel}
}

// Name returns the readiness component name.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check pings Redis and asks for the channel's subscriber count. A server
// whose ACL forbids pub/sub fails here rather than on the first
// invalidation.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return ErrNilClient
	}

	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	if err := h.client.PubSubNumSub(ctx, h.channel).Err(); err != nil {
		return fmt.Errorf("invalidation channel %q unavailable: %w", h.channel, err)
	}
	return nil
}
