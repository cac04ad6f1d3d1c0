//go:build unix

package tasks

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/jsonfile"
)

func TestService_SharedStoreAcrossServices(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T, path string) RecordStore
	}{
		{"file", func(t *testing.T, path string) RecordStore {
			return NewFileStore(path)
		}},
		{"sqlite", func(t *testing.T, path string) RecordStore {
			store, err := OpenSQLiteStore(path)
			if err != nil {
				t.Fatalf("OpenSQLiteStore: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tasks."+tt.name)
			services := []*Service{
				NewService(tt.open(t, path)),
				NewService(tt.open(t, path)),
			}
			ctx := context.Background()

			const n = 20
			var (
				mu  sync.Mutex
				ids []int64
				wg  sync.WaitGroup
			)
			for _, svc := range services {
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func(svc *Service) {
						defer wg.Done()
						task, err := svc.Add(ctx, "shared")
						if err != nil {
							t.Errorf("Add: %v", err)
							return
						}
						mu.Lock()
						ids = append(ids, task.ID)
						mu.Unlock()
					}(svc)
				}
			}
			wg.Wait()

			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			if len(ids) != 2*n {
				t.Fatalf("got %d ids, want %d", len(ids), 2*n)
			}
			for i, id := range ids {
				if id != int64(i+1) {
					t.Fatalf("ids = %v, want 1..%d with no duplicates", ids, 2*n)
				}
			}

			for _, svc := range services {
				list, err := svc.List(ctx)
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				if len(list) != 2*n {
					t.Errorf("persisted %d tasks, want %d", len(list), 2*n)
				}
			}
		})
	}
}

func TestService_FileLockHeldElsewhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	store := NewFileStore(path)
	store.SetLockTimeout(30 * time.Millisecond)
	svc := NewService(store)
	ctx := context.Background()

	lock, err := jsonfile.LockFile(ctx, path+".lock", time.Second)
	if err != nil {
		t.Fatalf("LockFile: %v", err)
	}

	if _, err := svc.Add(ctx, "blocked"); !errors.Is(err, errors.ErrCodeResourceBusy) {
		t.Fatalf("Add error = %v, want RESOURCE_BUSY", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("tasks file written while locked: %v", err)
	}

	lock.Unlock()
	if _, err := svc.Add(ctx, "unblocked"); err != nil {
		t.Fatalf("Add after release: %v", err)
	}
}
