package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/devsupport/mcp"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Args    string
	URL     string
	List    bool
	Timeout time.Duration
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call [tool]",
		Short: "Call a tool on an MCP server",
		Long: `Call a tool on an MCP server and print its result.

With --url the command connects to a server started with
"serve --transport websocket". Otherwise it starts "devsupport serve"
as a child process and talks to it over stdio.

Example:
  devsupport call --list
  devsupport call add_task --args '{"title":"Write docs"}'
  devsupport call list_tasks --url ws://127.0.0.1:8765/mcp`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.List && len(args) == 0 {
				return NewExitError(ExitCommandError, "a tool name or --list is required")
			}
			tool := ""
			if len(args) == 1 {
				tool = args[0]
			}
			return runCall(cmd, opts, tool)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "tool arguments as a JSON object")
	cmd.Flags().StringVar(&opts.URL, "url", "", "WebSocket URL of a running server")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list the server's tools")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "time allowed for the call")

	return cmd
}

func runCall(cmd *cobra.Command, opts *CallOptions, tool string) error {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(opts.Args), &args); err != nil {
		return WrapExitError(ExitCommandError, "invalid --args JSON", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	client, err := connectClient(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect", err)
	}
	defer client.Close()

	if _, err := client.Initialize(ctx); err != nil {
		return WrapExitError(ExitCommandError, "connect", err)
	}

	out := newOutput(cmd, opts.RootOptions)

	if opts.List {
		list, err := client.ListTools(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "list tools", err)
		}
		lines := make([]string, 0, len(list))
		for _, t := range list {
			lines = append(lines, fmt.Sprintf("%-16s %s", t.Name, t.Description))
		}
		return out.Result(map[string]interface{}{"tools": list}, strings.Join(lines, "\n"))
	}

	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return WrapExitError(ExitCommandError, "call "+tool, err)
	}

	var body interface{}
	if err := result.Decode(&body); err != nil {
		body = result.Text()
	}
	pretty, _ := json.MarshalIndent(body, "", "  ")

	if result.IsError {
		if opts.Format == "json" {
			out.encode(Response{Status: "error", Data: body})
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
		}
		return NewExitError(ExitFailure, tool+" failed")
	}
	return out.Result(body, string(pretty))
}

// connectClient dials --url, or starts this executable as a stdio server.
func connectClient(ctx context.Context, opts *CallOptions) (*mcp.Client, error) {
	info := mcp.Implementation{Name: "devsupport-cli", Version: opts.Version}
	if opts.URL != "" {
		return mcp.Dial(ctx, opts.URL, info)
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	serveArgs := []string{"serve", "--transport", "stdio"}
	if opts.ConfigPath != "" {
		serveArgs = append(serveArgs, "--config", opts.ConfigPath)
	}
	return mcp.Spawn(mcp.ServerConfig{Command: exe, Args: serveArgs}, info)
}
