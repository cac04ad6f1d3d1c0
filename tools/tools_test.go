package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/devsupport/analyzer"
	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/policy"
	"github.com/vinayprograms/devsupport/tasks"
	"github.com/vinayprograms/devsupport/worklog"
)

type fixture struct {
	reg       *Registry
	tasksPath string
	log       *worklog.Log
}

func newFixture(t *testing.T, pol *policy.Policy) *fixture {
	t.Helper()
	dir := t.TempDir()
	tasksPath := filepath.Join(dir, "tasks.json")

	log, err := worklog.Open(worklog.Config{Path: filepath.Join(dir, "logs", "work_log.json")})
	if err != nil {
		t.Fatalf("open work log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	reg := NewRegistry(pol)
	RegisterTaskTools(reg, tasks.NewService(tasks.NewFileStore(tasksPath)))
	RegisterWorkLogTools(reg, log)
	RegisterAnalyzeTool(reg)

	return &fixture{reg: reg, tasksPath: tasksPath, log: log}
}

func (f *fixture) call(t *testing.T, name string, args Args) (interface{}, error) {
	t.Helper()
	return f.reg.Execute(context.Background(), name, args)
}

// roundTrip renders a result the way the server sends it.
func roundTrip(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return out
}

func TestTools_Registered(t *testing.T) {
	f := newFixture(t, nil)

	var names []string
	for _, def := range f.reg.Definitions() {
		names = append(names, def.Name)
	}
	want := "add_task,analyze_file,complete_task,list_tasks,log_work,search_work_log"
	if strings.Join(names, ",") != want {
		t.Errorf("tools = %v, want %s", names, want)
	}
}

func TestTools_TaskScenario(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.call(t, "add_task", Args{"title": "write docs"})
	if err != nil {
		t.Fatalf("add_task: %v", err)
	}
	added := result.(*TaskResult)
	if !added.Success || added.Message != "Task 'write docs' added successfully" {
		t.Errorf("add_task = %+v", added)
	}
	if added.Task == nil || added.Task.ID != 1 || added.Task.Status != tasks.StatusPending {
		t.Errorf("task = %+v", added.Task)
	}

	f.call(t, "add_task", Args{"title": "review docs"})

	result, err = f.call(t, "complete_task", Args{"task_id": 1.0})
	if err != nil {
		t.Fatalf("complete_task: %v", err)
	}
	done := result.(*TaskResult)
	if !done.Success || done.Message != "Task 1 marked as completed" {
		t.Errorf("complete_task = %+v", done)
	}

	result, _ = f.call(t, "complete_task", Args{"task_id": 1.0})
	again := result.(*TaskResult)
	if again.Success || again.Message != "Task already completed" {
		t.Errorf("second complete_task = %+v", again)
	}
	if again.Task == nil || again.Task.Status != tasks.StatusCompleted {
		t.Errorf("already completed result should carry the task: %+v", again.Task)
	}

	result, _ = f.call(t, "complete_task", Args{"task_id": 99.0})
	missing := result.(*TaskResult)
	if missing.Success || missing.Message != "Task with ID 99 not found" || missing.Task != nil {
		t.Errorf("complete_task(99) = %+v", missing)
	}

	result, err = f.call(t, "list_tasks", nil)
	if err != nil {
		t.Fatalf("list_tasks: %v", err)
	}
	out := roundTrip(t, result)
	list := out["tasks"].([]interface{})
	if len(list) != 2 {
		t.Fatalf("list_tasks = %v", out)
	}
	first := list[0].(map[string]interface{})
	second := list[1].(map[string]interface{})
	if first["status"] != "completed" || first["completed_at"] == nil {
		t.Errorf("first = %v", first)
	}
	if second["status"] != "pending" || second["completed_at"] != nil {
		t.Errorf("second = %v", second)
	}
	if _, ok := second["completed_at"]; !ok {
		t.Error("completed_at should be present as null for pending tasks")
	}
}

func TestTools_ListEmpty(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.call(t, "list_tasks", Args{})
	if err != nil {
		t.Fatalf("list_tasks: %v", err)
	}
	data, _ := json.Marshal(result)
	if string(data) != `{"tasks":[]}` {
		t.Errorf("list_tasks = %s", data)
	}
}

func TestTools_InvalidTaskInput(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		tool string
		args Args
	}{
		{"add_task", Args{}},
		{"add_task", Args{"title": "   "}},
		{"add_task", Args{"title": 5.0}},
		{"complete_task", Args{}},
		{"complete_task", Args{"task_id": "1"}},
		{"complete_task", Args{"task_id": 1.5}},
		{"complete_task", Args{"task_id": 0.0}},
	}
	for _, tt := range tests {
		result, err := f.call(t, tt.tool, tt.args)
		if err != nil {
			t.Errorf("%s(%v) returned tool error %v, want success:false", tt.tool, tt.args, err)
			continue
		}
		res := result.(*TaskResult)
		if res.Success || res.Message == "" {
			t.Errorf("%s(%v) = %+v", tt.tool, tt.args, res)
		}
	}

	if _, err := os.Stat(f.tasksPath); !os.IsNotExist(err) {
		t.Error("invalid input touched the tasks file")
	}
}

func TestTools_CorruptStoreIsToolError(t *testing.T) {
	f := newFixture(t, nil)
	os.WriteFile(f.tasksPath, []byte("{not json"), 0o644)

	for _, tc := range []struct {
		tool string
		args Args
	}{
		{"list_tasks", nil},
		{"add_task", Args{"title": "a"}},
		{"complete_task", Args{"task_id": 1.0}},
	} {
		result, err := f.call(t, tc.tool, tc.args)
		if !errors.Is(err, errors.ErrCodeCorruptState) {
			t.Errorf("%s error = %v, want CORRUPT_STATE", tc.tool, err)
		}
		if result != nil {
			t.Errorf("%s returned result %v alongside error", tc.tool, result)
		}
	}
}

func TestTools_LogWork(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.call(t, "log_work", Args{"description": "paired on the parser"})
	if err != nil {
		t.Fatalf("log_work: %v", err)
	}
	out := roundTrip(t, result)
	if out["success"] != true || out["description"] != "paired on the parser" {
		t.Errorf("log_work = %v", out)
	}
	if _, err := time.Parse(time.RFC3339Nano, out["timestamp"].(string)); err != nil {
		t.Errorf("timestamp %v: %v", out["timestamp"], err)
	}
	if _, ok := out["message"]; ok {
		t.Error("successful log_work should not carry a message")
	}

	result, err = f.call(t, "log_work", Args{"description": ""})
	if err != nil {
		t.Fatalf("log_work(empty): %v", err)
	}
	if res := result.(*LogWorkResult); res.Success {
		t.Errorf("empty description accepted: %+v", res)
	}
}

func TestTools_SearchWorkLog(t *testing.T) {
	f := newFixture(t, nil)
	for _, d := range []string{"refactored parser", "parser benchmarks", "team sync"} {
		f.call(t, "log_work", Args{"description": d})
	}

	result, err := f.call(t, "search_work_log", Args{"query": "parser"})
	if err != nil {
		t.Fatalf("search_work_log: %v", err)
	}
	res := result.(*SearchResult)
	if res.Total != 2 || len(res.Entries) != 2 {
		t.Errorf("search = %+v", res)
	}

	result, _ = f.call(t, "search_work_log", Args{"query": "parser", "limit": 1.0})
	if res := result.(*SearchResult); len(res.Entries) != 1 || res.Total != 2 {
		t.Errorf("limited search = %+v", res)
	}

	if _, err := f.call(t, "search_work_log", Args{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("missing query error = %v", err)
	}
	if _, err := f.call(t, "search_work_log", Args{"query": "x", "limit": "ten"}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("bad limit error = %v", err)
	}
}

func TestTools_AnalyzeFile(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "main.py")
	os.WriteFile(path, []byte("# TODO\ndef main():\n    pass\n"), 0o644)

	result, err := f.call(t, "analyze_file", Args{"file_path": path})
	if err != nil {
		t.Fatalf("analyze_file: %v", err)
	}
	want := analyzer.Analysis{LineCount: 3, HasTodos: true, HasFunctions: true, HasComments: true}
	if got := *result.(*analyzer.Analysis); got != want {
		t.Errorf("analysis = %+v, want %+v", got, want)
	}

	out := roundTrip(t, result)
	for _, key := range []string{"lineCount", "hasTodos", "hasFunctions", "hasComments"} {
		if _, ok := out[key]; !ok {
			t.Errorf("result missing %q: %v", key, out)
		}
	}

	result, err = f.call(t, "analyze_file", Args{"file_path": filepath.Join(t.TempDir(), "missing.py")})
	if err != nil {
		t.Fatalf("analyze_file(missing): %v", err)
	}
	if *result.(*analyzer.Analysis) != (analyzer.Analysis{}) {
		t.Errorf("missing file analysis = %+v", result)
	}
}

func TestTools_AnalyzeFileRespectsPolicy(t *testing.T) {
	workspace := t.TempDir()
	realWorkspace, _ := filepath.EvalSymlinks(workspace)
	inside := filepath.Join(realWorkspace, "ok.go")
	os.WriteFile(inside, []byte("// ok\n"), 0o644)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	os.WriteFile(outside, []byte("secret\n"), 0o644)

	pol := policy.New()
	pol.Workspace = realWorkspace
	pol.Tools["analyze_file"] = &policy.ToolPolicy{Enabled: true, Allow: []string{"$WORKSPACE/**"}}
	f := newFixture(t, pol)

	if _, err := f.call(t, "analyze_file", Args{"file_path": inside}); err != nil {
		t.Errorf("inside workspace: %v", err)
	}
	_, err := f.call(t, "analyze_file", Args{"file_path": outside})
	if !errors.Is(err, errors.ErrCodePermissionDenied) {
		t.Errorf("outside workspace error = %v, want PERMISSION_DENIED", err)
	}
}
