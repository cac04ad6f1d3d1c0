package errors

// ErrorCategory classifies errors by their retry semantics.
type ErrorCategory string

const (
	CategoryTransient ErrorCategory = "transient"
	CategoryPermanent ErrorCategory = "permanent"
	CategoryResource  ErrorCategory = "resource"
	CategoryInternal  ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	// Permanent
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"     // Malformed or empty arguments
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"         // No task with that id
	ErrCodeAlreadyCompleted ErrorCode = "ALREADY_COMPLETED" // Completed task cannot transition again
	ErrCodeUnsupported      ErrorCode = "UNSUPPORTED"       // Unknown tool, method or backend
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED" // Refused by tool policy
	ErrCodeCanceled         ErrorCode = "CANCELED"          // Caller canceled the operation

	// Transient
	ErrCodeIO      ErrorCode = "IO_ERROR" // Store unreadable or unwritable
	ErrCodeTimeout ErrorCode = "TIMEOUT"  // Deadline exceeded

	// Resource
	ErrCodeResourceBusy ErrorCode = "RESOURCE_BUSY" // Store lock held elsewhere or rate limit reached

	// Internal
	ErrCodeCorruptState ErrorCode = "CORRUPT_STATE" // Persisted state present but invalid
	ErrCodeInternal     ErrorCode = "INTERNAL"      // Unexpected failure
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeInvalidInput, ErrCodeNotFound, ErrCodeAlreadyCompleted,
		ErrCodeUnsupported, ErrCodePermissionDenied, ErrCodeCanceled:
		return CategoryPermanent
	case ErrCodeIO, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeResourceBusy:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeInvalidInput:     "invalid input provided",
	ErrCodeNotFound:         "resource not found",
	ErrCodeAlreadyCompleted: "task already completed",
	ErrCodeUnsupported:      "operation not supported",
	ErrCodePermissionDenied: "denied by policy",
	ErrCodeCanceled:         "operation canceled",
	ErrCodeIO:               "storage i/o failure",
	ErrCodeTimeout:          "operation timed out",
	ErrCodeResourceBusy:     "resource is busy",
	ErrCodeCorruptState:     "persisted state is corrupt",
	ErrCodeInternal:         "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
