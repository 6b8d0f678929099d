// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import "sync"

// KeyLock provides per-key read/write locks. Concurrent readers of the same
// key proceed in parallel; a writer on a key excludes only that key, so
// unrelated resources are never serialized against each other.
//
// Locks are created on first use and never reclaimed; the key space here is
// resource names (buckets, tables, queues), which is small and bounded by
// what clients create.
type KeyLock struct {
	locks *ShardedMap[*sync.RWMutex]
}

// NewKeyLock creates an empty lock set.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: NewShardedMap[*sync.RWMutex]()}
}

func (kl *KeyLock) get(key string) *sync.RWMutex {
	mu, _ := kl.locks.LoadOrStore(key, &sync.RWMutex{})
	return mu
}

// Lock acquires the exclusive lock for key.
func (kl *KeyLock) Lock(key string) {
	kl.get(key).Lock()
}

// Unlock releases the exclusive lock for key.
func (kl *KeyLock) Unlock(key string) {
	kl.get(key).Unlock()
}

// RLock acquires the shared lock for key.
func (kl *KeyLock) RLock(key string) {
	kl.get(key).RLock()
}

// RUnlock releases the shared lock for key.
func (kl *KeyLock) RUnlock(key string) {
	kl.get(key).RUnlock()
}
