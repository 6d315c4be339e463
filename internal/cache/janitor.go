package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/weatherwave/weatherwave/internal/observability"
	"github.com/weatherwave/weatherwave/internal/store"
)

// Janitor bounds store growth by removing entries older than the retention
// window, plus entries that no longer decode. Run opportunistically (once
// per daemon start), not on a timer.
type Janitor struct {
	store  store.Store
	maxAge time.Duration
	logger *zap.Logger
}

// NewJanitor creates a Janitor over the given store. maxAge is the
// retention window; it should be comfortably longer than the cache
// freshness TTL so stale entries stay available for offline fallback.
func NewJanitor(s store.Store, maxAge time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{store: s, maxAge: maxAge, logger: logger}
}

// Sweep removes expired and corrupt entries. Idempotent and safe to run
// concurrently with resolution; a concurrent write simply wins. Returns
// the number of entries removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	keys, err := j.store.Keys(ctx)
	if err != nil {
		if j.logger != nil {
			if errors.Is(err, store.ErrEnumerationUnsupported) {
				// Backend expires entries server-side instead.
				j.logger.Info("janitor: skipped, backend cannot enumerate")
			} else {
				j.logger.Warn("janitor: list keys failed", zap.Error(err))
			}
		}
		return 0
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, key := range keys {
		raw, ok, err := j.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}

		var probe struct {
			Timestamp int64 `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			if delErr := j.store.Delete(ctx, key); delErr == nil {
				removed++
				observability.JanitorRemovedTotal.WithLabelValues("corrupt").Inc()
				if j.logger != nil {
					j.logger.Info("janitor: removed corrupt entry", zap.String("key", key))
				}
			}
			continue
		}

		if time.UnixMilli(probe.Timestamp).Before(cutoff) {
			if delErr := j.store.Delete(ctx, key); delErr == nil {
				removed++
				observability.JanitorRemovedTotal.WithLabelValues("expired").Inc()
			}
		}
	}

	if removed > 0 && j.logger != nil {
		j.logger.Info("janitor sweep complete", zap.Int("removed", removed), zap.Int("scanned", len(keys)))
	}
	return removed
}
