package tasks

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/state"
)

// DefaultKVKey is the key holding the collection in a state store.
const DefaultKVKey = "tasks"

// KVStore keeps the collection as a JSON array under one key of a
// state.StateStore. Saves are revision-checked against the last load, so a
// writer that bypassed the service lock is detected instead of overwritten.
type KVStore struct {
	store state.StateStore
	key   string

	mu       sync.Mutex
	revision uint64
}

// NewKVStore creates a store for key in the given state store.
func NewKVStore(store state.StateStore, key string) *KVStore {
	if key == "" {
		key = DefaultKVKey
	}
	return &KVStore{store: store, key: key}
}

// Name implements RecordStore.
func (s *KVStore) Name() string {
	return "kv"
}

// Load reads the collection. A missing key is an empty collection.
func (s *KVStore) Load(ctx context.Context) ([]Task, error) {
	kv, err := s.store.GetKeyValue(ctx, s.key)
	if err != nil {
		if stderrors.Is(err, state.ErrNotFound) {
			s.setRevision(0)
			return []Task{}, nil
		}
		return nil, s.wrapErr(ctx, err, "read tasks key")
	}

	tasks, err := DecodeTasks(kv.Value)
	if err != nil {
		return nil, errors.Wrap(err, "load tasks", errors.WithMetadata("key", s.key))
	}
	s.setRevision(kv.Revision)
	return tasks, nil
}

// Save writes the collection if the key is unchanged since the last Load.
func (s *KVStore) Save(ctx context.Context, tasks []Task) error {
	data, err := EncodeTasks(tasks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev, err := s.store.Update(ctx, s.key, data, s.revision)
	if err != nil {
		if stderrors.Is(err, state.ErrRevisionMismatch) {
			return errors.ResourceBusy("task collection was modified concurrently",
				errors.WithCause(err), errors.WithMetadata("key", s.key))
		}
		return s.wrapErr(ctx, err, "write tasks key")
	}
	s.revision = rev
	return nil
}

// Close implements RecordStore. The state store belongs to the caller.
func (s *KVStore) Close() error {
	return nil
}

func (s *KVStore) setRevision(rev uint64) {
	s.mu.Lock()
	s.revision = rev
	s.mu.Unlock()
}

func (s *KVStore) wrapErr(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), msg)
	}
	return errors.WrapWithCode(err, errors.ErrCodeIO, msg, errors.WithMetadata("key", s.key))
}
