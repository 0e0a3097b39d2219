package cache

import "context"

// Invalidator drops cached decision data. reason is free text for logs.
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) error
}

// Compile-time checks.
var (
	_ Invalidator = (*DecisionCache)(nil)
	_ Invalidator = (*RedisBus)(nil)
)

// Invalidate implements Invalidator for the local cache.
func (c *DecisionCache) Invalidate(_ context.Context, _ string) error {
	c.InvalidateAll()
	return nil
}
