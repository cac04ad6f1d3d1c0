package tasks

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/devsupport/bus"
	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/logging"
	"github.com/vinayprograms/devsupport/state"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block others.
	DefaultLockTTL = 30 * time.Second

	// DefaultLockTimeout is how long a mutation waits for the shared lock.
	DefaultLockTimeout = 5 * time.Second

	lockRetryInterval = 50 * time.Millisecond
)

// Service is the public task surface: Add, List and Complete.
// It is safe for concurrent use.
type Service struct {
	store  RecordStore
	mu     sync.RWMutex
	now    func() time.Time
	logger *logging.Logger
	events *bus.Emitter

	locker      state.StateStore
	lockKey     string
	lockTTL     time.Duration
	lockTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for created_at and completed_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEvents publishes tasks.added and tasks.completed after each
// persisted change.
func WithEvents(e *bus.Emitter) Option {
	return func(s *Service) {
		s.events = e
	}
}

// WithLocker serializes mutations across processes with a named lock in
// store. A ttl of zero uses DefaultLockTTL.
func WithLocker(store state.StateStore, key string, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = store
		s.lockKey = key
		s.lockTTL = ttl
	}
}

// WithLockTimeout sets how long a mutation waits for the shared lock
// before failing with RESOURCE_BUSY.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.lockTimeout = d
	}
}

// NewService creates a service over store.
func NewService(store RecordStore, opts ...Option) *Service {
	s := &Service{
		store:       store,
		now:         time.Now,
		logger:      logging.Discard(),
		lockKey:     DefaultKVKey,
		lockTTL:     DefaultLockTTL,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = DefaultLockTimeout
	}
	s.logger = s.logger.WithComponent("tasks")
	return s
}

// Add creates a Pending task with the next id and persists it before
// returning. An empty title is INVALID_INPUT and touches no state.
func (s *Service) Add(ctx context.Context, title string) (Task, error) {
	title, err := NormalizeTitle(title)
	if err != nil {
		return Task{}, err
	}

	var created Task
	err = s.mutate(ctx, func(tasks []Task) ([]Task, error) {
		created = Task{
			ID:        NextID(tasks),
			Title:     title,
			Status:    StatusPending,
			CreatedAt: s.now().UTC(),
		}
		return append(tasks, created), nil
	})
	if err != nil {
		return Task{}, err
	}

	s.logger.TaskAdded(created.ID, created.Title)
	s.events.Emit(bus.EventTaskAdded, created)
	return created, nil
}

// List returns every task in insertion order. An empty store yields an
// empty, non-nil slice.
func (s *Service) List(ctx context.Context) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.load(ctx)
}

// Complete moves the task with id to Completed and persists it.
//
// An unknown id is NOT_FOUND. A task that is already completed yields
// ALREADY_COMPLETED together with the task's current state.
func (s *Service) Complete(ctx context.Context, id int64) (Task, error) {
	if id <= 0 {
		return Task{}, errors.InvalidInput(fmt.Sprintf("task_id must be a positive integer, got %d", id), errors.WithTaskID(id))
	}

	var current Task
	err := s.mutate(ctx, func(tasks []Task) ([]Task, error) {
		for i := range tasks {
			if tasks[i].ID != id {
				continue
			}
			if err := tasks[i].Complete(s.now()); err != nil {
				current = tasks[i].Clone()
				return nil, err
			}
			current = tasks[i].Clone()
			return tasks, nil
		}
		return nil, errors.NotFound(fmt.Sprintf("Task with ID %d not found", id), errors.WithTaskID(id))
	})
	if err != nil {
		if errors.Is(err, errors.ErrCodeAlreadyCompleted) {
			return current, err
		}
		return Task{}, err
	}

	s.logger.TaskCompleted(id)
	s.events.Emit(bus.EventTaskCompleted, current)
	return current, nil
}

// Close closes the underlying store.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Close()
}

// mutate loads the collection, applies fn and saves the result while holding
// the write lock, the shared lock and the store's own lock when it has one.
// Nothing is saved when fn fails.
func (s *Service) mutate(ctx context.Context, fn func([]Task) ([]Task, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if u, ok := s.store.(Updater); ok {
		return s.update(ctx, u, fn)
	}

	tasks, err := s.load(ctx)
	if err != nil {
		return err
	}

	updated, err := fn(tasks)
	if err != nil {
		return err
	}

	return s.save(ctx, updated)
}

// update runs fn through the store's own cross-process cycle.
func (s *Service) update(ctx context.Context, u Updater, fn func([]Task) ([]Task, error)) error {
	start := time.Now()
	var (
		fnErr error
		saved int
	)
	err := u.Update(ctx, func(tasks []Task) ([]Task, error) {
		s.logger.StoreLoaded(s.store.Name(), len(tasks), time.Since(start))
		updated, err := fn(tasks)
		fnErr = err
		saved = len(updated)
		return updated, err
	})
	if err != nil {
		if fnErr == nil {
			s.logger.Error("store_update_failed", map[string]interface{}{
				"backend": s.store.Name(),
				"code":    errors.Code(err),
				"error":   err.Error(),
			})
		}
		return err
	}
	s.logger.StoreSaved(s.store.Name(), saved, time.Since(start))
	return nil
}

func (s *Service) load(ctx context.Context) ([]Task, error) {
	start := time.Now()
	tasks, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("store_load_failed", map[string]interface{}{
			"backend": s.store.Name(),
			"code":    errors.Code(err),
			"error":   err.Error(),
		})
		return nil, err
	}
	s.logger.StoreLoaded(s.store.Name(), len(tasks), time.Since(start))
	return tasks, nil
}

func (s *Service) save(ctx context.Context, tasks []Task) error {
	start := time.Now()
	if err := s.store.Save(ctx, tasks); err != nil {
		s.logger.Error("store_save_failed", map[string]interface{}{
			"backend": s.store.Name(),
			"code":    errors.Code(err),
			"error":   err.Error(),
		})
		return err
	}
	s.logger.StoreSaved(s.store.Name(), len(tasks), time.Since(start))
	return nil
}

// acquire takes the shared lock when one is configured, retrying while it
// is held elsewhere until the lock timeout elapses.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	deadline := time.NewTimer(s.lockTimeout)
	defer deadline.Stop()

	for {
		lock, err := s.locker.Lock(ctx, s.lockKey, s.lockTTL)
		if err == nil {
			return func() {
				if err := lock.Unlock(); err != nil {
					s.logger.Warn("lock_release_failed", map[string]interface{}{
						"key":   lock.Key(),
						"error": err.Error(),
					})
				}
			}, nil
		}
		if !stderrors.Is(err, state.ErrLockHeld) {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "acquire task store lock")
			}
			return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "acquire task store lock")
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "wait for task store lock")
		case <-deadline.C:
			return nil, errors.ResourceBusy(
				fmt.Sprintf("task store is locked by another process (waited %s)", s.lockTimeout),
				errors.WithMetadata("key", s.lockKey))
		case <-time.After(lockRetryInterval):
		}
	}
}
