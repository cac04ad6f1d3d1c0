package cli

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/devsupport/errors"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation refused (task not found, invalid input, tool error)
	ExitCommandError = 2 // Command error (bad config, unreachable server, corrupt store)
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope written with --format json.
type Response struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *Failure    `json:"error,omitempty"`
}

// Failure describes a failed operation.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// output writes command results in the selected format.
type output struct {
	format string
	w      io.Writer
}

func newOutput(cmd *cobra.Command, opts *RootOptions) *output {
	return &output{format: opts.Format, w: cmd.OutOrStdout()}
}

// Result writes data as a JSON envelope, or text as a line.
func (o *output) Result(data interface{}, text string) error {
	if o.format == "json" {
		return o.encode(Response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(o.w, text)
	return err
}

// Fail reports err and returns the ExitError for the command. Domain
// refusals exit with ExitFailure; everything else with ExitCommandError.
func (o *output) Fail(err error, message string) error {
	code := ExitCommandError
	switch errors.Code(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeNotFound, errors.ErrCodeAlreadyCompleted, errors.ErrCodePermissionDenied:
		code = ExitFailure
	}

	if o.format == "json" {
		f := &Failure{Code: string(errors.ErrCodeInternal), Message: err.Error()}
		if coded := errors.As(err); coded != nil {
			f.Code = string(coded.Code())
			f.Message = coded.Message()
		}
		o.encode(Response{Status: "error", Error: f})
	}
	return WrapExitError(code, message, err)
}

func (o *output) encode(v interface{}) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
