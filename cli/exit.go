package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/petal-labs/toolversions/config"
	"github.com/petal-labs/toolversions/manifest"
)

// Process exit codes.
const (
	exitSuccess      = 0
	exitValidation   = 1
	exitRuntime      = 2
	exitFileNotFound = 3
	exitInputParse   = 4
	exitTimeout      = 10
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func configExitError(err error) *ExitError {
	if errors.Is(err, fs.ErrNotExist) {
		return exitError(exitFileNotFound, "%v", err)
	}
	return exitError(exitValidation, "configuration: %v", err)
}

func manifestExitError(path string, err error) *ExitError {
	if errors.Is(err, fs.ErrNotExist) {
		return exitError(exitFileNotFound, "manifest not found: %s", path)
	}
	return exitError(exitInputParse, "%v", err)
}

// runExitError maps a failed update run to its exit code. Per-tool lookup
// failures never reach here.
func runExitError(path string, err error) *ExitError {
	var loadErr *manifest.LoadError
	switch {
	case errors.As(err, &loadErr):
		return manifestExitError(path, err)
	case errors.Is(err, context.DeadlineExceeded):
		return exitError(exitTimeout, "update timed out, manifest not written")
	case errors.Is(err, context.Canceled):
		return exitError(exitTimeout, "update cancelled, manifest not written")
	case errors.Is(err, config.ErrInvalid):
		return exitError(exitValidation, "%v", err)
	default:
		return exitError(exitRuntime, "update failed: %v", err)
	}
}
