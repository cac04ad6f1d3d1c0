package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
		wantRetry    bool
	}{
		{"invalid_input", ErrCodeInvalidInput, CategoryPermanent, false},
		{"not_found", ErrCodeNotFound, CategoryPermanent, false},
		{"already_completed", ErrCodeAlreadyCompleted, CategoryPermanent, false},
		{"io", ErrCodeIO, CategoryTransient, true},
		{"busy", ErrCodeResourceBusy, CategoryResource, true},
		{"corrupt", ErrCodeCorruptState, CategoryInternal, false},
		{"unknown", ErrorCode("WHATEVER"), CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.wantRetry)
			}
			if err.Error() != "msg" {
				t.Errorf("Error() = %q, want %q", err.Error(), "msg")
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeCorruptState)
	if err.Error() != "persisted state is corrupt" {
		t.Errorf("Error() = %q", err.Error())
	}
	if ErrorCode("nope").Description() != "unknown error" {
		t.Error("unknown code should describe as unknown error")
	}
}

func TestWithRetryableOverride(t *testing.T) {
	err := IO("disk full", WithRetryable(false))
	if err.Retryable() {
		t.Error("expected override to make error non-retryable")
	}
}

func TestTaskIDMetadata(t *testing.T) {
	err := NotFound("task 42 not found", WithTaskID(42))
	if err.TaskID() != 42 {
		t.Errorf("TaskID() = %d, want 42", err.TaskID())
	}
	if err.Metadata()[MetaTaskID] != "42" {
		t.Errorf("metadata task_id = %q", err.Metadata()[MetaTaskID])
	}
	if New(ErrCodeInternal, "x").TaskID() != 0 {
		t.Error("TaskID() without metadata should be 0")
	}
}

func TestMetadataIsCopy(t *testing.T) {
	err := New(ErrCodeIO, "x", WithPath("/tmp/tasks.json"))
	meta := err.Metadata()
	meta[MetaPath] = "changed"
	if err.Metadata()[MetaPath] != "/tmp/tasks.json" {
		t.Error("Metadata() must return a copy")
	}
}

func TestWrap_PreservesCode(t *testing.T) {
	inner := CorruptState("bad json", WithPath("tasks.json"))
	wrapped := Wrap(inner, "loading tasks")

	if wrapped.Code() != ErrCodeCorruptState {
		t.Errorf("Code() = %v, want %v", wrapped.Code(), ErrCodeCorruptState)
	}
	if wrapped.Metadata()[MetaPath] != "tasks.json" {
		t.Error("expected metadata to survive wrapping")
	}
	if wrapped.Error() != "loading tasks: bad json" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, inner) {
		t.Error("wrapped error should unwrap to inner")
	}
}

func TestWrap_PlainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeCanceled},
		{"wrapped canceled", fmt.Errorf("waiting: %w", context.Canceled), ErrCodeCanceled},
		{"plain", errors.New("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Wrap(tt.err, "op").Code(); got != tt.want {
				t.Errorf("Code() = %v, want %v", got, tt.want)
			}
		})
	}

	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if WrapWithCode(nil, ErrCodeIO, "nothing") != nil {
		t.Error("WrapWithCode(nil) should be nil")
	}
}

func TestIsAndCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", AlreadyCompleted("done"))

	if !Is(err, ErrCodeAlreadyCompleted) {
		t.Error("Is should find the code through fmt wrapping")
	}
	if Is(err, ErrCodeNotFound) {
		t.Error("Is matched the wrong code")
	}
	if Code(err) != ErrCodeAlreadyCompleted {
		t.Errorf("Code() = %v", Code(err))
	}
	if Code(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !IsRetryable(ResourceBusy("locked")) {
		t.Error("busy errors are retryable")
	}
	if !IsCategory(IO("x"), CategoryTransient) {
		t.Error("IO should be transient")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := WrapWithCode(errors.New("permission denied"), ErrCodeIO, "write tasks", WithPath("tasks.json"))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Error
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Code() != ErrCodeIO || got.Category() != CategoryTransient {
		t.Errorf("got code=%v category=%v", got.Code(), got.Category())
	}
	if got.Error() != orig.Error() {
		t.Errorf("Error() = %q, want %q", got.Error(), orig.Error())
	}
	if !got.Retryable() {
		t.Error("retryable flag lost")
	}
	if got.Timestamp().IsZero() {
		t.Error("timestamp lost")
	}
}

func TestCause(t *testing.T) {
	root := errors.New("root")
	err := Wrap(Wrap(root, "mid"), "top")
	if Cause(err) != root {
		t.Errorf("Cause() = %v, want root", Cause(err))
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("nil panic should give nil")
	}
	err := RecoverPanic("kaboom")
	if err.Code() != ErrCodeInternal || err.Message() != "panic: kaboom" {
		t.Errorf("unexpected %v / %q", err.Code(), err.Message())
	}
}
