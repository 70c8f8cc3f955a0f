package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/quintans/faults"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:account:"

// RedisOptions tune the RedLock mutexes.
type RedisOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// Redis locks accounts across every instance sharing the same Redis.
type Redis struct {
	rs   *redsync.Redsync
	opts RedisOptions
}

func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Expiry <= 0 {
		opts.Expiry = 10 * time.Second
	}
	if opts.Tries <= 0 {
		opts.Tries = 32
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	return &Redis{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
	}
}

func (r *Redis) LockAccounts(ctx context.Context, accountNumbers ...string) (func(context.Context) error, error) {
	keys := orderedKeys(accountNumbers)
	held := make([]*redsync.Mutex, 0, len(keys))

	for _, key := range keys {
		m := r.rs.NewMutex(keyPrefix+key,
			redsync.WithExpiry(r.opts.Expiry),
			redsync.WithTries(r.opts.Tries),
			redsync.WithRetryDelay(r.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			releaseErr := release(context.WithoutCancel(ctx), held)
			return nil, errors.Join(faults.Errorf("locking account %s: %w", key, ErrNotAcquired), err, releaseErr)
		}
		held = append(held, m)
	}

	return func(ctx context.Context) error {
		return release(ctx, held)
	}, nil
}

func release(ctx context.Context, held []*redsync.Mutex) error {
	var errs []error
	for i := len(held) - 1; i >= 0; i-- {
		if ok, err := held[i].UnlockContext(ctx); err != nil {
			errs = append(errs, faults.Errorf("unlocking %s: %w", held[i].Name(), err))
		} else if !ok {
			errs = append(errs, faults.Errorf("unlocking %s: lock expired before release", held[i].Name()))
		}
	}
	return errors.Join(errs...)
}
