package controlapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
)

const (
	invalidateAttempts  = 3
	invalidateBaseDelay = 50 * time.Millisecond
)

// invalidate runs after a mutation has committed. It retries with
// exponential backoff inside invalidationTimeout. A final failure is
// logged but not reported to the client: the change is durable and
// data-plane caches converge within their TTL.
func (a *API) invalidate(r *http.Request, reason string) {
	log := logger.FromContext(r.Context())

	// The client hanging up must not cancel the invalidation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.invalidationTimeout)
	defer cancel()

	delay := invalidateBaseDelay
	for attempt := 1; ; attempt++ {
		err := a.invalidator.Invalidate(ctx, reason)
		if err == nil {
			observability.InvalidationsPublished.WithLabelValues("success").Inc()
			return
		}

		if attempt == invalidateAttempts || ctx.Err() != nil {
			observability.InvalidationsPublished.WithLabelValues("fail").Inc()
			log.Error("failed to invalidate decision caches",
				slog.String("reason", reason),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()))
			return
		}

		log.Warn("invalidation failed, retrying",
			slog.String("reason", reason),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		delay *= 2
	}
}
