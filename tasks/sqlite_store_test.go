package tasks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/vinayprograms/devsupport/errors"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Empty(t *testing.T) {
	store := openSQLite(t)

	tasks, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Errorf("tasks = %#v, want empty non-nil slice", tasks)
	}
	if store.Name() != "sqlite" {
		t.Errorf("Name = %q", store.Name())
	}
}

func TestSQLiteStore_SaveLoadPreservesOrder(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	done := pending(5, "second")
	done.Complete(t0)
	want := []Task{pending(9, "first"), done, pending(2, "third")}

	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Title != want[i].Title {
			t.Errorf("position %d = %d %q, want %d %q", i, got[i].ID, got[i].Title, want[i].ID, want[i].Title)
		}
	}
	if got[1].CompletedAt == nil || !got[1].CompletedAt.Equal(t0) {
		t.Errorf("completed_at = %v", got[1].CompletedAt)
	}
	if got[0].CompletedAt != nil {
		t.Errorf("pending task has completed_at %v", got[0].CompletedAt)
	}
}

func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	store.Save(ctx, []Task{pending(1, "a"), pending(2, "b")})
	if err := store.Save(ctx, []Task{pending(1, "a")}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, _ := store.Load(ctx)
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestSQLiteStore_FailedSaveKeepsPrevious(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	store.Save(ctx, []Task{pending(1, "a")})

	// The UNIQUE constraint on id rejects the second row mid-transaction.
	err := store.Save(ctx, []Task{pending(1, "x"), pending(1, "y")})
	if !errors.Is(err, errors.ErrCodeIO) {
		t.Fatalf("Save error = %v, want IO_ERROR", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Title != "a" {
		t.Errorf("tasks = %+v, want previous collection", got)
	}
}

func TestSQLiteStore_CorruptRow(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	_, err := store.db.Exec(`INSERT INTO tasks (seq, id, title, status, created_at) VALUES (1, 1, 'a', 'archived', '2024-05-01T09:30:00Z')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := store.Load(ctx); !errors.Is(err, errors.ErrCodeCorruptState) {
		t.Errorf("Load error = %v, want CORRUPT_STATE", err)
	}
}

func TestSQLiteStore_WithService(t *testing.T) {
	svc := NewService(openSQLite(t))
	ctx := context.Background()

	svc.Add(ctx, "a")
	svc.Add(ctx, "b")
	if _, err := svc.Complete(ctx, 2); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, _ := svc.List(ctx)
	if len(got) != 2 || got[1].Status != StatusCompleted {
		t.Errorf("tasks = %+v", got)
	}
}

func TestSQLiteStore_UpdateFailureKeepsRows(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	if err := store.Save(ctx, []Task{pending(1, "a")}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	err := store.Update(ctx, func(tasks []Task) ([]Task, error) {
		return nil, errors.NotFound("Task with ID 9 not found")
	})
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("Update error = %v, want NOT_FOUND", err)
	}

	err = store.Update(ctx, func(tasks []Task) ([]Task, error) {
		return append(tasks, pending(2, "b")), nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].Title != "a" || got[1].Title != "b" {
		t.Errorf("tasks = %+v", got)
	}
}
