package tasks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/vinayprograms/devsupport/errors"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending is the initial state.
	StatusPending Status = "pending"

	// StatusCompleted is terminal.
	StatusCompleted Status = "completed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Task is a persisted unit of work.
type Task struct {
	ID          int64
	Title       string
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Complete applies the Pending → Completed transition.
// On an already completed task it returns ALREADY_COMPLETED and leaves the
// task unchanged.
func (t *Task) Complete(now time.Time) error {
	if t.Status == StatusCompleted {
		return errors.AlreadyCompleted("Task already completed", errors.WithTaskID(t.ID))
	}
	completed := now.UTC()
	t.Status = StatusCompleted
	t.CompletedAt = &completed
	return nil
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		t.CompletedAt = &completed
	}
	return t
}

// NormalizeTitle trims surrounding whitespace and converts the title to NFC.
// Empty titles and invalid UTF-8 are INVALID_INPUT.
func NormalizeTitle(title string) (string, error) {
	if !utf8.ValidString(title) {
		return "", errors.InvalidInput("title is not valid UTF-8")
	}
	title = norm.NFC.String(strings.TrimSpace(title))
	if title == "" {
		return "", errors.InvalidInput("title must not be empty")
	}
	return title, nil
}

// NextID returns the id for a new task: one past the highest id in the
// collection, or 1 for an empty collection.
func NextID(tasks []Task) int64 {
	var high int64
	for _, t := range tasks {
		if t.ID > high {
			high = t.ID
		}
	}
	return high + 1
}

// Validate checks the collection invariants. Violations are CORRUPT_STATE.
func Validate(tasks []Task) error {
	seen := make(map[int64]struct{}, len(tasks))
	for i, t := range tasks {
		if t.ID <= 0 {
			return errors.CorruptState(fmt.Sprintf("task at index %d has non-positive id %d", i, t.ID))
		}
		if _, dup := seen[t.ID]; dup {
			return errors.CorruptState(fmt.Sprintf("duplicate task id %d", t.ID), errors.WithTaskID(t.ID))
		}
		seen[t.ID] = struct{}{}

		if strings.TrimSpace(t.Title) == "" {
			return errors.CorruptState(fmt.Sprintf("task %d has an empty title", t.ID), errors.WithTaskID(t.ID))
		}
		if !t.Status.Valid() {
			return errors.CorruptState(fmt.Sprintf("task %d has unknown status %q", t.ID, t.Status), errors.WithTaskID(t.ID))
		}
		if t.CreatedAt.IsZero() {
			return errors.CorruptState(fmt.Sprintf("task %d has no created_at", t.ID), errors.WithTaskID(t.ID))
		}
		if (t.Status == StatusCompleted) != (t.CompletedAt != nil) {
			return errors.CorruptState(fmt.Sprintf("task %d: completed_at does not match status %q", t.ID, t.Status), errors.WithTaskID(t.ID))
		}
	}
	return nil
}

// --- JSON form ---

// taskJSON is the serialized form. completed_at is always present, null
// while pending.
type taskJSON struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Status      Status  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at"`
}

// MarshalJSON encodes timestamps as RFC 3339 in UTC.
func (t Task) MarshalJSON() ([]byte, error) {
	out := taskJSON{
		ID:        t.ID,
		Title:     t.Title,
		Status:    t.Status,
		CreatedAt: formatTime(t.CreatedAt),
	}
	if t.CompletedAt != nil {
		completed := formatTime(*t.CompletedAt)
		out.CompletedAt = &completed
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts RFC 3339 timestamps and zone-less ISO 8601
// timestamps, which are read as local time.
func (t *Task) UnmarshalJSON(data []byte) error {
	var in taskJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	created, err := parseTime(in.CreatedAt)
	if err != nil {
		return fmt.Errorf("task %d created_at: %w", in.ID, err)
	}

	*t = Task{
		ID:        in.ID,
		Title:     in.Title,
		Status:    in.Status,
		CreatedAt: created,
	}
	if in.CompletedAt != nil {
		completed, err := parseTime(*in.CompletedAt)
		if err != nil {
			return fmt.Errorf("task %d completed_at: %w", in.ID, err)
		}
		t.CompletedAt = &completed
	}
	return nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
