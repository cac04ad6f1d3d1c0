// Package tasks is the task persistence and lifecycle engine.
//
// A Task is created Pending and moves to Completed at most once. The whole
// collection is persisted as a unit through a RecordStore:
//
//   - FileStore: a JSON array in one file, replaced atomically on save
//   - SQLiteStore: one row per task, replaced in a single transaction
//   - KVStore: the JSON array under one key of a state.StateStore
//
// Service composes a store with id allocation and the lifecycle rules.
// Every mutation runs load → validate → mutate → save while holding the
// service's write lock, and optionally a cross-process lock taken through
// state.StateStore.Lock:
//
//	svc := tasks.NewService(tasks.NewFileStore("tasks.json"),
//	    tasks.WithLogger(logger))
//
//	task, err := svc.Add(ctx, "write docs")
//	task, err = svc.Complete(ctx, task.ID)
//	if errors.Is(err, errors.ErrCodeAlreadyCompleted) {
//	    // task holds the current (completed) state
//	}
//
// # Ids
//
// New ids are max(existing id)+1, computed from the collection loaded inside
// the exclusive section, so ids stay unique and increasing regardless of the
// collection's length.
//
// # Missing vs corrupt state
//
// An absent store is an empty collection. A store that exists but cannot be
// decoded, or that breaks an invariant (duplicate or non-positive ids, empty
// titles, unknown statuses, completed_at out of step with status), is
// reported as CORRUPT_STATE and is never overwritten by a mutation.
package tasks
