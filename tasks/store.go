package tasks

import (
	"context"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/jsonfile"
)

// RecordStore persists the whole task collection as one unit.
type RecordStore interface {
	// Load returns the collection in insertion order. An absent store is an
	// empty collection; undecodable or invalid state is CORRUPT_STATE;
	// other read failures are IO_ERROR.
	Load(ctx context.Context) ([]Task, error)

	// Save replaces the collection atomically. On failure the previously
	// saved collection is left intact.
	Save(ctx context.Context, tasks []Task) error

	// Name identifies the backend in logs.
	Name() string

	// Close releases resources held by the store.
	Close() error
}

// Updater is implemented by stores that can run a load, change and save
// cycle under a lock that other processes sharing the store also take.
// Nothing is saved when fn fails.
type Updater interface {
	Update(ctx context.Context, fn func([]Task) ([]Task, error)) error
}

// EncodeTasks renders the collection in its persisted JSON form.
func EncodeTasks(tasks []Task) ([]byte, error) {
	if tasks == nil {
		tasks = []Task{}
	}
	data, err := jsonfile.MarshalStable(tasks)
	if err != nil {
		return nil, errors.Wrap(err, "encode tasks")
	}
	return data, nil
}

// DecodeTasks parses and validates a persisted collection.
func DecodeTasks(data []byte) ([]Task, error) {
	var tasks []Task
	if err := jsonfile.Decode(data, &tasks); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCorruptState, "task collection is not a valid JSON array of tasks")
	}
	if tasks == nil {
		// A literal null is not a collection.
		return nil, errors.CorruptState("task collection is null")
	}
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}
