package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/tasks"
)

// NewTasksCommand creates the tasks command group.
func NewTasksCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List, add and complete tasks in the configured store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App, out *output) error {
				list, err := app.Tasks.List(ctx)
				if err != nil {
					return out.Fail(err, "list tasks")
				}
				return out.Result(map[string]interface{}{"tasks": list}, formatTasks(list))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <title>",
		Short: "Add a pending task",
		Long: `Add a pending task. Words are joined with spaces.

Example:
  devsupport tasks add Write release notes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App, out *output) error {
				task, err := app.Tasks.Add(ctx, strings.Join(args, " "))
				if err != nil {
					return out.Fail(err, "add task")
				}
				return out.Result(task, fmt.Sprintf("Task '%s' added with id %d", task.Title, task.ID))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App, out *output) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return out.Fail(errors.InvalidInput(fmt.Sprintf("task id %q is not an integer", args[0])), "complete task")
				}
				task, err := app.Tasks.Complete(ctx, id)
				if err != nil {
					return out.Fail(err, "complete task")
				}
				return out.Result(task, fmt.Sprintf("Task %d marked as completed", task.ID))
			})
		},
	})

	return cmd
}

func formatTasks(list []tasks.Task) string {
	if len(list) == 0 {
		return "No tasks"
	}
	var b strings.Builder
	for i, t := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := " "
		if t.Status == tasks.StatusCompleted {
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %d  %s  (created %s", mark, t.ID, t.Title, t.CreatedAt.Local().Format(time.DateTime))
		if t.CompletedAt != nil {
			fmt.Fprintf(&b, ", completed %s", t.CompletedAt.Local().Format(time.DateTime))
		}
		b.WriteByte(')')
	}
	return b.String()
}

// withApp builds an App for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *App, out *output) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := NewApp(ctx, cfg, commandLogger(cmd, opts))
	if err != nil {
		return WrapExitError(ExitCommandError, "open stores", err)
	}
	defer app.Close()
	return fn(ctx, app, newOutput(cmd, opts))
}
