package tasks

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/jsonfile"
)

// FileStore keeps the collection as a JSON array in a single file.
// Mutations through Update are serialized across processes by a flock on
// the sibling file <path>.lock.
type FileStore struct {
	path        string
	perm        os.FileMode
	lockTimeout time.Duration
}

// NewFileStore creates a store for the file at path. The file and its
// parent directories are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, perm: 0o644, lockTimeout: DefaultLockTimeout}
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Name implements RecordStore.
func (s *FileStore) Name() string {
	return "file"
}

// Load reads the collection. A missing file is an empty collection.
func (s *FileStore) Load(ctx context.Context) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "load tasks")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return []Task{}, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "read tasks file", errors.WithPath(s.path))
	}

	tasks, err := DecodeTasks(data)
	if err != nil {
		return nil, errors.Wrap(err, "load tasks", errors.WithPath(s.path))
	}
	return tasks, nil
}

// Save writes the collection through a temp file and rename.
func (s *FileStore) Save(ctx context.Context, tasks []Task) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "save tasks")
	}

	data, err := EncodeTasks(tasks)
	if err != nil {
		return err
	}
	if err := jsonfile.WriteAtomic(s.path, data, s.perm); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeIO, "write tasks file", errors.WithPath(s.path))
	}
	return nil
}

// SetLockTimeout sets how long Update waits for the file lock before
// failing with RESOURCE_BUSY.
func (s *FileStore) SetLockTimeout(d time.Duration) {
	s.lockTimeout = d
}

// Update implements Updater. The lock is held across the load and the save.
func (s *FileStore) Update(ctx context.Context, fn func([]Task) ([]Task, error)) error {
	lock, err := jsonfile.LockFile(ctx, s.path+".lock", s.lockTimeout)
	if err != nil {
		return lockError(ctx, err, s.path, s.lockTimeout)
	}
	defer lock.Unlock()

	tasks, err := s.Load(ctx)
	if err != nil {
		return err
	}
	updated, err := fn(tasks)
	if err != nil {
		return err
	}
	return s.Save(ctx, updated)
}

func lockError(ctx context.Context, err error, path string, waited time.Duration) error {
	switch {
	case stderrors.Is(err, jsonfile.ErrLockTimeout):
		return errors.ResourceBusy(
			fmt.Sprintf("task store is locked by another process (waited %s)", waited),
			errors.WithPath(path))
	case ctx.Err() != nil:
		return errors.Wrap(ctx.Err(), "wait for task store lock")
	default:
		return errors.WrapWithCode(err, errors.ErrCodeIO, "lock tasks file", errors.WithPath(path))
	}
}

// Close implements RecordStore. FileStore holds no open resources.
func (s *FileStore) Close() error {
	return nil
}
