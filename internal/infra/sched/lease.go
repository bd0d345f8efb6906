package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/infra/redis"
)

// exclusive runs fn while holding key, so a periodic job runs on one
// instance at a time. ran is false when another instance holds the lease.
// A nil locker runs fn unguarded.
func exclusive(ctx context.Context, locker redis.Locker, key string, ttl time.Duration, log *zerolog.Logger, fn func(ctx context.Context) error) (ran bool, err error) {
	if locker == nil {
		return true, fn(ctx)
	}
	token, err := locker.TryLock(ctx, key, ttl)
	if errors.Is(err, redis.ErrLockHeld) {
		log.Debug().Str("lease", key).Msg("another instance holds the lease; skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn().Err(err).Str("lease", key).Msg("failed to release lease")
		}
	}()

	pass, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	return true, fn(pass)
}
