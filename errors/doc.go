// Package errors provides the structured error taxonomy used across
// devsupport. Every failure that crosses a package boundary is an *Error
// carrying a code, a category, and optional metadata.
//
// # Error Categories
//
//   - Transient: retry may succeed (I/O hiccups, timeouts)
//   - Permanent: retry will not help (invalid input, unknown task)
//   - Resource: contention or exhaustion (lock held elsewhere)
//   - Internal: bugs or corrupted persisted state
//
// # Usage
//
//	err := errors.NotFound("task 99 not found", errors.WithTaskID(99))
//
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // report success:false to the caller
//	}
//
// Wrapping keeps the code of the innermost *Error:
//
//	return errors.Wrap(err, "loading tasks")
//
// Nothing in this package retries. Retryable only describes whether the
// caller may reasonably retry the whole operation.
package errors
