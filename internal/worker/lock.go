package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/printforge/internal/config"
	"go.uber.org/zap"
)

const lockTTL = 5 * time.Minute

// Locker takes short-lived cross-instance locks so two replicas do not
// burn provider API quota racing on the same line. Losing the race is
// harmless; every effect downstream is idempotency-keyed.
type Locker struct {
	rdb *redis.Client
	log *zap.Logger
}

// NewLocker returns a nil-safe locker. Without a Redis address every
// acquire succeeds, which is correct for single-instance deployments.
func NewLocker(cfg config.Config, log *zap.Logger) *Locker {
	if cfg.RedisAddr == "" {
		return &Locker{log: log.Named("worker.locker")}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return &Locker{rdb: rdb, log: log.Named("worker.locker")}
}

func (l *Locker) Acquire(ctx context.Context, key string) bool {
	if l == nil || l.rdb == nil {
		return true
	}
	ok, err := l.rdb.SetNX(ctx, "fulfillment:lock:"+key, "1", lockTTL).Result()
	if err != nil {
		// Redis being down must not stall fulfillment.
		l.log.Warn("lock acquire failed, proceeding without lock",
			zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

func (l *Locker) Release(ctx context.Context, key string) {
	if l == nil || l.rdb == nil {
		return
	}
	if err := l.rdb.Del(ctx, "fulfillment:lock:"+key).Err(); err != nil {
		l.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
	}
}
