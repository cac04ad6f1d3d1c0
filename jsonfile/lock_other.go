//go:build !unix

package jsonfile

import (
	"context"
	"time"
)

// Lock is a no-op on platforms without flock. Writes stay atomic but
// concurrent writers in separate processes are not serialized.
type Lock struct{}

// LockFile returns immediately unless ctx is already done.
func LockFile(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Lock{}, nil
}

// Unlock implements the unix API.
func (l *Lock) Unlock() error {
	return nil
}
