package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountLocker interface {
	LockAccounts(ctx context.Context, accountNumbers ...string) (func(context.Context) error, error)
}

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, RedisOptions{Expiry: 5 * time.Second, Tries: 4, RetryDelay: 10 * time.Millisecond}), mr
}

func TestOrderedKeys(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, orderedKeys([]string{"C", "A", "B", "A"}))
	assert.Empty(t, orderedKeys(nil))
}

func testMutualExclusion(t *testing.T, l accountLocker) {
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the goroutines name the pair in the opposite order.
			pair := []string{"A", "B"}
			if i%2 == 1 {
				pair = []string{"B", "A"}
			}
			unlock, err := l.LockAccounts(context.Background(), pair...)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, unlock(context.Background()))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLocal_MutualExclusion(t *testing.T) {
	testMutualExclusion(t, NewLocal())
}

func TestLocal_DisjointAccountsDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlockAB, err := l.LockAccounts(context.Background(), "A", "B")
	require.NoError(t, err)
	defer unlockAB(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockCD, err := l.LockAccounts(ctx, "C", "D")
	require.NoError(t, err)
	require.NoError(t, unlockCD(context.Background()))
}

func TestLocal_GivesUpWhenContextEnds(t *testing.T) {
	l := NewLocal()
	unlock, err := l.LockAccounts(context.Background(), "B")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.LockAccounts(ctx, "A", "B")
	require.ErrorIs(t, err, ErrNotAcquired)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A was released when B could not be taken.
	unlockA, err := l.LockAccounts(context.Background(), "A")
	require.NoError(t, err)
	require.NoError(t, unlockA(context.Background()))

	require.NoError(t, unlock(context.Background()))
	require.NoError(t, unlock(context.Background()), "unlock is idempotent")

	l.mu.Lock()
	assert.Empty(t, l.entries)
	l.mu.Unlock()
}

func TestRedis_MutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t)
	l.opts.Tries = 200
	testMutualExclusion(t, l)
}

func TestRedis_LocksAreVisibleAndReleased(t *testing.T) {
	l, mr := newRedisLocker(t)

	unlock, err := l.LockAccounts(context.Background(), "B", "A")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"A"))
	assert.True(t, mr.Exists(keyPrefix+"B"))

	require.NoError(t, unlock(context.Background()))
	assert.False(t, mr.Exists(keyPrefix+"A"))
	assert.False(t, mr.Exists(keyPrefix+"B"))
}

func TestRedis_ReleasesHeldLocksOnFailure(t *testing.T) {
	l, mr := newRedisLocker(t)

	unlockB, err := l.LockAccounts(context.Background(), "B")
	require.NoError(t, err)

	_, err = l.LockAccounts(context.Background(), "A", "B")
	require.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, mr.Exists(keyPrefix+"A"), "A must be released when B is busy")

	require.NoError(t, unlockB(context.Background()))
}
