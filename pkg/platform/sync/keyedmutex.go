// Package sync provides keyed locking primitives for per-DID serialization.
package sync

import "sync"

// KeyedMutex provides fine-grained locking using sharded mutexes. All
// state-changing operations for one DID acquire the same shard, so writes to a
// single DID serialize while unrelated DIDs proceed in parallel. Two DIDs may
// share a shard; that coarsens fairness but never breaks the exclusion
// guarantee.
type KeyedMutex struct {
	shards [64]sync.Mutex
}

// NewKeyedMutex creates a KeyedMutex with 64 shards.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

// Lock acquires the exclusive section for the given key.
// Empty keys default to shard 0.
func (m *KeyedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the exclusive section for the given key.
func (m *KeyedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

func (m *KeyedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(hashString(key) % uint32(len(m.shards)))
}

// hashString provides a simple multiplicative hash for shard selection.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
