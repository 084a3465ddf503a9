// Package syncutil provides small synchronization helpers.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const keyedShards = 128

// KeyedMutex provides a fixed pool of channel-based mutexes keyed by string.
// Locks are channel-backed so waiters can bail out on context cancellation.
// Keys sharing a shard serialize against each other; with 128 shards that
// collision cost is negligible for the per-tenant locking this is used for.
type KeyedMutex struct {
	shards [keyedShards]chan struct{}
	once   sync.Once
}

// NewKeyedMutex creates a new keyed mutex pool.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // start unlocked
		}
	})
}

// LockContext acquires the mutex for key, respecting context cancellation.
// On success it returns an unlock function the caller MUST invoke; on
// cancellation it returns the context error.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % keyedShards
}
