package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
)

// RedisBus carries invalidation events between processes over a Redis
// pub/sub channel. The control plane publishes; every data plane replica
// subscribes and invalidates its local cache.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus returns a bus on channel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RedisBus{client: client, channel: channel}
}

// Invalidate publishes reason on the channel.
func (b *RedisBus) Invalidate(ctx context.Context, reason string) error {
	if err := b.client.Publish(ctx, b.channel, reason).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation on %q: %w", b.channel, err)
	}
	return nil
}

// Subscribe consumes the channel until ctx is cancelled, invalidating
// target for every event.
//
// target is also invalidated on every (re)subscription: events published
// while the connection was down are lost, so the local state is suspect.
func (b *RedisBus) Subscribe(ctx context.Context, target Invalidator) error {
	log := logger.FromContext(ctx).With(slog.String("channel", b.channel))

	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("invalidation bus receive failed", slog.Any("error", err), slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 100 * time.Millisecond

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind != "subscribe" {
				continue
			}
			log.Info("invalidation bus subscribed")
			b.apply(ctx, log, target, "resubscribed")
		case *redis.Message:
			observability.InvalidationEventsReceived.Inc()
			log.Debug("invalidation event received", slog.String("reason", m.Payload))
			b.apply(ctx, log, target, m.Payload)
		}
	}
}

func (b *RedisBus) apply(ctx context.Context, log *slog.Logger, target Invalidator, reason string) {
	if err := target.Invalidate(ctx, reason); err != nil {
		log.Error("local invalidation failed", slog.Any("error", err))
	}
}
