package state

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore implements StateStore using in-memory storage.
// Useful for testing and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]*entry
	locks    map[string]*memoryLock
	revision uint64
	closed   atomic.Bool
	now      func() time.Time
}

type entry struct {
	value    []byte
	revision uint64
	modified time.Time
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]*entry),
		locks: make(map[string]*memoryLock),
		now:   time.Now,
	}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	kv, err := s.GetKeyValue(ctx, key)
	if err != nil {
		return nil, err
	}
	return kv.Value, nil
}

// GetKeyValue retrieves the full KeyValue entry.
func (s *MemoryStore) GetKeyValue(ctx context.Context, key string) (*KeyValue, error) {
	if err := s.check(ctx, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	return &KeyValue{
		Key:      key,
		Value:    copyBytes(e.value),
		Revision: e.revision,
		Modified: e.modified,
	}, nil
}

// Put stores a value unconditionally.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := s.check(ctx, key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, value), nil
}

// Update stores a value if the key is at the expected revision.
func (s *MemoryStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := s.check(ctx, key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current uint64
	if e, ok := s.data[key]; ok {
		current = e.revision
	}
	if current != revision {
		return 0, ErrRevisionMismatch
	}
	return s.write(key, value), nil
}

// write stores a copy of value. Must be called with mu held.
func (s *MemoryStore) write(key string, value []byte) uint64 {
	s.revision++
	s.data[key] = &entry{
		value:    copyBytes(value),
		revision: s.revision,
		modified: s.now(),
	}
	return s.revision
}

// Delete removes a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Keys returns all keys matching a pattern, sorted.
func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.data {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Lock acquires a named lock.
func (s *MemoryStore) Lock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := s.check(ctx, key); err != nil {
		return nil, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lockKey := lockPrefix + key
	now := s.now()

	if existing, ok := s.locks[lockKey]; ok {
		if !existing.released.Load() && !lockExpired(existing.acquired, existing.ttl, now) {
			return nil, ErrLockHeld
		}
		existing.released.Store(true)
	}

	lock := &memoryLock{
		store:    s,
		key:      lockKey,
		ttl:      ttl,
		acquired: now,
	}
	s.locks[lockKey] = lock
	return lock, nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lock := range s.locks {
		lock.released.Store(true)
	}
	s.data = nil
	s.locks = nil
	return nil
}

func (s *MemoryStore) check(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// memoryLock implements the Lock interface for MemoryStore.
type memoryLock struct {
	store    *MemoryStore
	key      string
	ttl      time.Duration
	acquired time.Time
	released atomic.Bool
}

// Unlock releases the lock.
func (l *memoryLock) Unlock() error {
	if l.released.Swap(true) {
		return ErrLockNotHeld
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	if l.store.locks[l.key] == l {
		delete(l.store.locks, l.key)
	}
	return nil
}

// Refresh extends the lock TTL.
func (l *memoryLock) Refresh() error {
	if l.released.Load() {
		return ErrLockNotHeld
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	now := l.store.now()
	if lockExpired(l.acquired, l.ttl, now) {
		l.released.Store(true)
		if l.store.locks[l.key] == l {
			delete(l.store.locks, l.key)
		}
		return ErrLockExpired
	}

	l.acquired = now
	return nil
}

// Key returns the lock key.
func (l *memoryLock) Key() string {
	return l.key
}
