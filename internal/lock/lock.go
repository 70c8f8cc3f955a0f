// Package lock serialises transfers over the same accounts. Keys are always
// acquired in sorted order so concurrent transfers over overlapping accounts
// cannot deadlock.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be taken before the deadline.
var ErrNotAcquired = errors.New("account lock not acquired")

func orderedKeys(numbers []string) []string {
	seen := make(map[string]struct{}, len(numbers))
	keys := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		keys = append(keys, n)
	}
	sort.Strings(keys)
	return keys
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// Local locks accounts within one process.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocal() *Local {
	return &Local{entries: make(map[string]*localEntry)}
}

func (l *Local) LockAccounts(ctx context.Context, accountNumbers ...string) (func(context.Context) error, error) {
	keys := orderedKeys(accountNumbers)
	held := make([]string, 0, len(keys))

	for _, key := range keys {
		e := l.acquireRef(key)
		select {
		case e.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.releaseRef(key, false)
			l.unlock(held)
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		}
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { l.unlock(held) })
		return nil
	}, nil
}

func (l *Local) unlock(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.releaseRef(keys[i], true)
	}
}

func (l *Local) acquireRef(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) releaseRef(key string, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	if held {
		<-e.ch
	}
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
