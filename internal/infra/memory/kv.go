package memory

import (
	"context"
	"sync"
	"time"
)

// KV is an in-memory devicestore.KV with optional per-key expiry.
type KV struct {
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]kvEntry
}

type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewKV() *KV {
	return NewKVWithClock(time.Now)
}

// NewKVWithClock is test-only for deterministic expiry.
func NewKVWithClock(now func() time.Time) *KV {
	return &KV{
		clock:   now,
		entries: make(map[string]kvEntry),
	}
}

func (kv *KV) Get(_ context.Context, key string) (string, bool, error) {
	now := kv.clock()

	kv.mu.RLock()
	entry, ok := kv.entries[key]
	kv.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
		kv.mu.Lock()
		if current, still := kv.entries[key]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(kv.entries, key)
		}
		kv.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

func (kv *KV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := kvEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = kv.clock().Add(ttl)
	}
	kv.mu.Lock()
	kv.entries[key] = entry
	kv.mu.Unlock()
	return nil
}

func (kv *KV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	delete(kv.entries, key)
	kv.mu.Unlock()
	return nil
}

// Len reports the number of stored keys, expired ones included.
func (kv *KV) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.entries)
}

func (kv *KV) Update(_ context.Context, key string, fn func(current string, ok bool) (string, error)) error {
	now := kv.clock()

	kv.mu.Lock()
	defer kv.mu.Unlock()
	entry, ok := kv.entries[key]
	if ok && !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
		ok = false
	}
	next, err := fn(entry.value, ok)
	if err != nil {
		return err
	}
	kv.entries[key] = kvEntry{value: next}
	return nil
}
