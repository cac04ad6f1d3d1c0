package tasks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/devsupport/bus"
	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/state"
)

func newFileService(t *testing.T, opts ...Option) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	return NewService(NewFileStore(path), opts...), path
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestService_Lifecycle(t *testing.T) {
	svc, _ := newFileService(t, WithClock(fixedClock(t0)))
	ctx := context.Background()

	a, err := svc.Add(ctx, "write docs")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	b, err := svc.Add(ctx, "review docs")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", a.ID, b.ID)
	}
	if a.Status != StatusPending || a.CompletedAt != nil || !a.CreatedAt.Equal(t0) {
		t.Errorf("new task = %+v", a)
	}

	done, err := svc.Complete(ctx, 1)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil {
		t.Errorf("completed task = %+v", done)
	}

	again, err := svc.Complete(ctx, 1)
	if !errors.Is(err, errors.ErrCodeAlreadyCompleted) {
		t.Fatalf("second Complete error = %v, want ALREADY_COMPLETED", err)
	}
	if again.ID != 1 || again.Status != StatusCompleted {
		t.Errorf("already completed task = %+v", again)
	}

	_, err = svc.Complete(ctx, 99)
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("Complete(99) error = %v, want NOT_FOUND", err)
	}
	if errors.As(err).Message() != "Task with ID 99 not found" {
		t.Errorf("message = %q", errors.As(err).Message())
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Status != StatusCompleted || list[1].Status != StatusPending {
		t.Errorf("statuses = %s, %s", list[0].Status, list[1].Status)
	}
}

func TestService_AddRejectsEmptyTitle(t *testing.T) {
	svc, path := newFileService(t)

	_, err := svc.Add(context.Background(), "   ")
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("Add error = %v, want INVALID_INPUT", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("rejected add created the tasks file")
	}
}

func TestService_CompleteRejectsNonPositiveID(t *testing.T) {
	svc, _ := newFileService(t)

	for _, id := range []int64{0, -3} {
		if _, err := svc.Complete(context.Background(), id); !errors.Is(err, errors.ErrCodeInvalidInput) {
			t.Errorf("Complete(%d) error = %v, want INVALID_INPUT", id, err)
		}
	}
}

func TestService_ListEmpty(t *testing.T) {
	svc, _ := newFileService(t)

	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("list = %#v, want empty non-nil slice", list)
	}
}

func TestService_IDsNotReused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	store := NewFileStore(path)
	ctx := context.Background()

	// Ids past a gap continue from the highest seen.
	store.Save(ctx, []Task{pending(1, "a"), pending(4, "b")})

	svc := NewService(store)
	task, err := svc.Add(ctx, "c")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if task.ID != 5 {
		t.Errorf("id = %d, want 5", task.ID)
	}
}

func TestService_ConcurrentAdds(t *testing.T) {
	svc, _ := newFileService(t)
	ctx := context.Background()

	const n = 20
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := svc.Add(ctx, "task")
			if err != nil {
				t.Errorf("Add: %v", err)
				return
			}
			ids[i] = task.ID
		}(i)
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != int64(i+1) {
			t.Fatalf("ids = %v, want 1..%d", ids, n)
		}
	}

	list, _ := svc.List(ctx)
	if len(list) != n {
		t.Fatalf("list has %d tasks, want %d", len(list), n)
	}
	for i := 1; i < len(list); i++ {
		if list[i].ID <= list[i-1].ID {
			t.Errorf("list not in insertion order at %d: %d after %d", i, list[i].ID, list[i-1].ID)
		}
	}
}

func TestService_ConcurrentCompleteSameTask(t *testing.T) {
	svc, _ := newFileService(t)
	ctx := context.Background()
	svc.Add(ctx, "contended")

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		already   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Complete(ctx, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, errors.ErrCodeAlreadyCompleted):
				already++
			default:
				t.Errorf("Complete: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || already != n-1 {
		t.Errorf("succeeded = %d, already = %d", succeeded, already)
	}
}

func TestService_CorruptFileIsNotOverwritten(t *testing.T) {
	svc, path := newFileService(t)
	ctx := context.Background()

	garbage := []byte("[{\"id\": 1, \"title\": ")
	os.WriteFile(path, garbage, 0o644)

	if _, err := svc.List(ctx); !errors.Is(err, errors.ErrCodeCorruptState) {
		t.Errorf("List error = %v, want CORRUPT_STATE", err)
	}
	if _, err := svc.Add(ctx, "new"); !errors.Is(err, errors.ErrCodeCorruptState) {
		t.Errorf("Add error = %v, want CORRUPT_STATE", err)
	}
	if _, err := svc.Complete(ctx, 1); !errors.Is(err, errors.ErrCodeCorruptState) {
		t.Errorf("Complete error = %v, want CORRUPT_STATE", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != string(garbage) {
		t.Errorf("corrupt file was modified: %q", data)
	}
}

func TestService_EmptyFileIsCorrupt(t *testing.T) {
	svc, path := newFileService(t)
	os.WriteFile(path, nil, 0o644)

	if _, err := svc.List(context.Background()); !errors.Is(err, errors.ErrCodeCorruptState) {
		t.Errorf("List error = %v, want CORRUPT_STATE", err)
	}
}

func TestService_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	ctx := context.Background()

	first := NewService(NewFileStore(path))
	first.Add(ctx, "a")
	first.Add(ctx, "b")
	first.Complete(ctx, 2)

	second := NewService(NewFileStore(path))
	list, err := second.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[1].Status != StatusCompleted {
		t.Errorf("list = %+v", list)
	}
	task, _ := second.Add(ctx, "c")
	if task.ID != 3 {
		t.Errorf("id = %d, want 3", task.ID)
	}
}

func TestService_CanceledContext(t *testing.T) {
	svc, path := newFileService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Add(ctx, "a"); !errors.Is(err, errors.ErrCodeCanceled) {
		t.Errorf("Add error = %v, want CANCELED", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("canceled add wrote the tasks file")
	}
}

func TestService_LockHeldElsewhere(t *testing.T) {
	mem := state.NewMemoryStore()
	ctx := context.Background()

	held, err := mem.Lock(ctx, "tasks", time.Minute)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	svc := NewService(NewKVStore(mem, ""),
		WithLocker(mem, "tasks", time.Second),
		WithLockTimeout(100*time.Millisecond))

	start := time.Now()
	_, err = svc.Add(ctx, "blocked")
	if !errors.Is(err, errors.ErrCodeResourceBusy) {
		t.Fatalf("Add error = %v, want RESOURCE_BUSY", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("gave up after %v, before the lock timeout", elapsed)
	}

	held.Unlock()
	if _, err := svc.Add(ctx, "unblocked"); err != nil {
		t.Fatalf("Add after unlock: %v", err)
	}
}

func TestService_LockWaitCanceled(t *testing.T) {
	mem := state.NewMemoryStore()
	mem.Lock(context.Background(), "tasks", time.Minute)

	svc := NewService(NewKVStore(mem, ""),
		WithLocker(mem, "tasks", time.Second),
		WithLockTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	_, err := svc.Complete(ctx, 1)
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Fatalf("Complete error = %v, want TIMEOUT", err)
	}
}

func TestService_SharedLockAcrossServices(t *testing.T) {
	mem := state.NewMemoryStore()
	ctx := context.Background()

	// Two services over one KV key behave like two server processes.
	a := NewService(NewKVStore(mem, ""), WithLocker(mem, "tasks", time.Second))
	b := NewService(NewKVStore(mem, ""), WithLocker(mem, "tasks", time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := a.Add(ctx, "from a"); err != nil {
				t.Errorf("a.Add: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := b.Add(ctx, "from b"); err != nil {
				t.Errorf("b.Add: %v", err)
			}
		}()
	}
	wg.Wait()

	list, err := a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 20 {
		t.Fatalf("list has %d tasks, want 20", len(list))
	}
	if err := Validate(list); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestService_PublishesEvents(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	sub, err := b.Subscribe("devsupport.tasks.>")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	svc, _ := newFileService(t, WithEvents(bus.NewEmitter(b, "", nil)))
	ctx := context.Background()

	if _, err := svc.Add(ctx, "ship it"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := svc.Complete(ctx, 1); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Refused changes publish nothing.
	svc.Complete(ctx, 1)
	svc.Add(ctx, "  ")

	want := []string{bus.EventTaskAdded, bus.EventTaskCompleted}
	for _, typ := range want {
		select {
		case msg := <-sub.Messages():
			ev, err := bus.DecodeEvent(msg)
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if ev.Type != typ {
				t.Errorf("event type = %q, want %q", ev.Type, typ)
			}
			var task Task
			if err := json.Unmarshal(ev.Data, &task); err != nil || task.ID != 1 {
				t.Errorf("event data = %s", ev.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", typ)
		}
	}
	select {
	case msg := <-sub.Messages():
		t.Errorf("unexpected event on %s", msg.Subject)
	default:
	}
}
