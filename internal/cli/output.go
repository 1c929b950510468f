package cli

import (
	"errors"
	"fmt"
)

// Exit codes for dockrun commands.
const (
	ExitSuccess      = 0   // every discovered item has an output
	ExitFailure      = 1   // unexpected failure
	ExitCommandError = 2   // configuration or environment error; nothing processed
	ExitIncomplete   = 3   // run finished with items failed or still missing
	ExitInterrupted  = 130 // stopped by signal before the work was done
)

// ExitError carries the process exit code for an error returned by a command.
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that carry no code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
