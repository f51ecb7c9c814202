// Package lock provides per-key exclusive sections. The payout flow holds
// one per user so that two withdrawals for the same user never interleave.
//
// Memory serialises goroutines of one process. Redis extends that across
// every instance sharing the Redis server.
package lock

import (
	"context"
	"sync"
)

// Locker acquires the exclusive section for key, waiting until it is free
// or ctx is done. The returned unlock function is safe to call more than
// once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

var _ Locker = (*Memory)(nil)

// Memory is an in-process Locker. Entries are dropped once nobody holds or
// waits for them, so the map stays bounded by the number of active keys.
type Memory struct {
	mu   sync.Mutex
	keys map[string]*memEntry
}

type memEntry struct {
	sem  chan struct{}
	refs int
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*memEntry)}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.keys[key]
	if !ok {
		e = &memEntry{sem: make(chan struct{}, 1)}
		m.keys[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				m.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}
}

func (m *Memory) release(key string, e *memEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.keys, key)
	}
}
