package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/devsupport/bus"
)

type env struct {
	dir        string
	configPath string
	tasksPath  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:        dir,
		configPath: filepath.Join(dir, "devsupport.toml"),
		tasksPath:  filepath.Join(dir, "tasks.json"),
	}
	content := `
[storage]
tasks_file = "` + filepath.ToSlash(e.tasksPath) + `"
work_log_file = "` + filepath.ToSlash(filepath.Join(dir, "logs", "work_log.json")) + `"

[logging]
file = "` + filepath.ToSlash(filepath.Join(dir, "logs", "server.log")) + `"
level = "debug"
`
	require.NoError(t, os.WriteFile(e.configPath, []byte(content), 0644))
	return e
}

// run executes the root command and returns stdout.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runWithInput(t, "", args...)
}

func (e *env) runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand("test")
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("test")
	require.NotNil(t, cmd)
	assert.Equal(t, "devsupport", cmd.Use)

	for _, name := range []string{"serve", "tasks", "log", "search", "analyze", "call", "watch", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	for _, name := range []string{"list", "add", "complete"} {
		sub, _, err := cmd.Find([]string{"tasks", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("test")

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "--format", "xml", "tasks", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Software Development Support MCP Server test")
}

func TestTasks_Lifecycle(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks")

	out, err = e.run(t, "tasks", "add", "Write", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "Task 'Write docs' added with id 1")

	_, err = e.run(t, "tasks", "add", "Review docs")
	require.NoError(t, err)

	out, err = e.run(t, "tasks", "complete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Task 1 marked as completed")

	out, err = e.run(t, "tasks", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "[x] 1  Write docs"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "[ ] 2  Review docs"), lines[1])
}

func TestTasks_Failures(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "tasks", "add", "Only task")
	require.NoError(t, err)
	_, err = e.run(t, "tasks", "complete", "1")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"already completed", []string{"tasks", "complete", "1"}, "ALREADY_COMPLETED"},
		{"not found", []string{"tasks", "complete", "99"}, "NOT_FOUND"},
		{"not an integer", []string{"tasks", "complete", "abc"}, "INVALID_INPUT"},
		{"blank title", []string{"tasks", "add", "   "}, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.run(t, append([]string{"--format", "json"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var resp Response
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestTasks_ListJSON(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "tasks", "add", "Ship it")
	require.NoError(t, err)

	out, err := e.run(t, "--format", "json", "tasks", "list")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Tasks []map[string]interface{} `json:"tasks"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Tasks, 1)
	assert.Equal(t, "Ship it", resp.Data.Tasks[0]["title"])
	assert.Equal(t, "pending", resp.Data.Tasks[0]["status"])
	assert.Nil(t, resp.Data.Tasks[0]["completed_at"])
}

func TestTasks_CorruptStore(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(e.tasksPath, []byte("[{]"), 0644))

	_, err := e.run(t, "tasks", "add", "New task")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	data, err := os.ReadFile(e.tasksPath)
	require.NoError(t, err)
	assert.Equal(t, "[{]", string(data))
}

func TestLogAndSearch(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "log", "Fixed", "the", "flaky", "upload", "test")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged at ")

	_, err = e.run(t, "log", "Reviewed storage migration")
	require.NoError(t, err)

	out, err = e.run(t, "search", "flaky")
	require.NoError(t, err)
	assert.Contains(t, out, "1 matching entries")
	assert.Contains(t, out, "Fixed the flaky upload test")
	assert.NotContains(t, out, "storage migration")

	_, err = e.run(t, "log", " ")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestAnalyze(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(e.dir, "main.py")
	require.NoError(t, os.WriteFile(path, []byte("# TODO: split\ndef main():\n    pass\n"), 0644))

	out, err := e.run(t, "--format", "json", "analyze", path)
	require.NoError(t, err)

	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, float64(3), resp.Data["lineCount"])
	assert.Equal(t, true, resp.Data["hasTodos"])
	assert.Equal(t, true, resp.Data["hasFunctions"])
	assert.Equal(t, true, resp.Data["hasComments"])

	out, err = e.run(t, "analyze", filepath.Join(e.dir, "missing.py"))
	require.NoError(t, err)
	assert.Contains(t, out, "lines=0")
}

func TestCall_RequiresTool(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "call")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--list")
}

func TestCall_InvalidArgs(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "call", "add_task", "--args", "{oops", "--url", "ws://127.0.0.1:1/mcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --args JSON")
}

func TestServe_Stdio(t *testing.T) {
	e := newEnv(t)
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"add_task","arguments":{"title":"From stdio"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"resources/list"}`,
	}, "\n") + "\n"

	out, err := e.runWithInput(t, input, "serve")
	require.NoError(t, err)

	responses := map[float64]map[string]interface{}{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &resp), line)
		responses[resp["id"].(float64)] = resp
	}
	require.Len(t, responses, 4)

	initResult := responses[1]["result"].(map[string]interface{})
	assert.Equal(t, "2024-11-05", initResult["protocolVersion"])
	serverInfo := initResult["serverInfo"].(map[string]interface{})
	assert.Equal(t, "Software Development Support MCP Server", serverInfo["name"])

	toolList := responses[2]["result"].(map[string]interface{})["tools"].([]interface{})
	assert.Len(t, toolList, 6)

	callResult := responses[3]["result"].(map[string]interface{})
	assert.Equal(t, false, callResult["isError"])
	structured := callResult["structuredContent"].(map[string]interface{})
	assert.Equal(t, true, structured["success"])

	rpcErr := responses[4]["error"].(map[string]interface{})
	assert.Equal(t, float64(-32601), rpcErr["code"])

	data, err := os.ReadFile(e.tasksPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "From stdio")
}

func TestServe_WebSocketWithCall(t *testing.T) {
	e := newEnv(t)

	ready := make(chan string, 1)
	rootOpts := &RootOptions{ConfigPath: e.configPath, Format: "text", Version: "test"}
	serveOpts := &ServeOptions{RootOptions: rootOpts, Transport: "websocket", Listen: "127.0.0.1:0", ready: ready}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveCmd := &cobra.Command{}
	serveCmd.SetContext(ctx)

	served := make(chan error, 1)
	go func() { served <- runServe(serveCmd, serveOpts) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-served:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	url := "ws://" + addr + "/mcp"

	out, err := e.run(t, "call", "--list", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "add_task")
	assert.Contains(t, out, "search_work_log")

	out, err = e.run(t, "call", "add_task", "--args", `{"title":"Over websocket"}`, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)

	out, err = e.run(t, "call", "complete_task", "--args", `{"task_id":42}`, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": false`)

	out, err = e.run(t, "call", "search_work_log", "--args", `{"query":""}`, "--url", url)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "INVALID_INPUT")

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestWatch_RequiresNATS(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "watch")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWatchEvents(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	emitter := bus.NewEmitter(b, "", nil)
	sub, err := b.Subscribe(emitter.Pattern())
	require.NoError(t, err)

	emitter.Emit(bus.EventTaskAdded, map[string]int{"id": 1})
	b.Publish("devsupport.noise", []byte("not an event"))
	emitter.Emit(bus.EventHeartbeat, map[string]string{"server_id": "x"})
	emitter.Emit(bus.EventWorkLogged, map[string]string{"description": "wrote tests"})

	buf := &bytes.Buffer{}
	out := &output{format: "text", w: buf}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, watchEvents(ctx, sub, out, 2, false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "tasks.added")
	assert.Contains(t, lines[1], "worklog.logged")
	assert.Contains(t, lines[1], "wrote tests")
}

func TestWatchEvents_StopsOnCancel(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	sub, err := b.Subscribe("devsupport.>")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, watchEvents(ctx, sub, &output{format: "text", w: &bytes.Buffer{}}, 0, true))
}
