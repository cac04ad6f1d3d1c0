package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/devsupport/worklog"
)

// NewLogCommand creates the log command.
func NewLogCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log <description>",
		Short: "Append an entry to the work log",
		Long: `Append an entry to the work log. Words are joined with spaces.

Example:
  devsupport log Reviewed the storage migration`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App, out *output) error {
				entry, err := app.WorkLog.Append(ctx, strings.Join(args, " "))
				if err != nil {
					return out.Fail(err, "log work")
				}
				return out.Result(entry, fmt.Sprintf("Logged at %s", entry.Timestamp))
			})
		},
	}
}

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Limit int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search of the work log",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App, out *output) error {
				entries, total, err := app.WorkLog.Search(ctx, strings.Join(args, " "), opts.Limit)
				if err != nil {
					return out.Fail(err, "search work log")
				}
				return out.Result(map[string]interface{}{"entries": entries, "total": total}, formatEntries(entries, total))
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "maximum entries to return")

	return cmd
}

func formatEntries(entries []worklog.Entry, total uint64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d matching entries", total)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%s  %s", e.Timestamp, e.Description)
	}
	return b.String()
}
