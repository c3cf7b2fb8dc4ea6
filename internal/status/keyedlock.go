package status

import (
	"context"
	"sync"
)

// keyedLock hands out one lock per key, created on demand and dropped once
// nobody holds or waits for it.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*lockEntry)}
}

func (k *keyedLock) ref(key string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *keyedLock) unref(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedLock) releaser(key string, e *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.unref(key, e)
		})
	}
}

// acquire blocks until the key is free or ctx ends.
func (k *keyedLock) acquire(ctx context.Context, key string) (func(), error) {
	e := k.ref(key)

	// Prefer a free lock even when ctx is already done.
	select {
	case e.sem <- struct{}{}:
		return k.releaser(key, e), nil
	default:
	}

	select {
	case e.sem <- struct{}{}:
		return k.releaser(key, e), nil
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}
}

// tryAcquire takes the key only if it is free.
func (k *keyedLock) tryAcquire(key string) (func(), bool) {
	e := k.ref(key)
	select {
	case e.sem <- struct{}{}:
		return k.releaser(key, e), true
	default:
		k.unref(key, e)
		return nil, false
	}
}

// size reports how many keys are tracked.
func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
