package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/devsupport/analyzer"
)

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>",
		Short: "Count lines and detect TODOs, functions and comments in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := analyzer.AnalyzeFile(cmd.Context(), args[0])
			if err != nil {
				return out.Fail(err, "analyze file")
			}
			return out.Result(a, fmt.Sprintf("lines=%d todos=%t functions=%t comments=%t",
				a.LineCount, a.HasTodos, a.HasFunctions, a.HasComments))
		},
	}
}
