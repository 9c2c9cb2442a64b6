package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolversions/index"
	"github.com/petal-labs/toolversions/updater"
)

// textReporter prints one line per tool and a closing summary.
type textReporter struct {
	out   io.Writer
	quiet bool
}

func newTextReporter(out io.Writer, quiet bool) *textReporter {
	return &textReporter{out: out, quiet: quiet}
}

func (r *textReporter) ObserveResult(_ context.Context, _ string, result updater.Result) {
	switch result.Status {
	case updater.StatusUpdated:
		if !r.quiet {
			fmt.Fprintf(r.out, "Updated %s: %s -> %s\n", result.Tool, result.Previous, result.Version)
		}
	case updater.StatusUnchanged:
		if !r.quiet {
			fmt.Fprintf(r.out, "%s is up to date (%s)\n", result.Tool, result.Version)
		}
	case updater.StatusFailed:
		fmt.Fprintln(r.out, failureLine(result))
	}
}

func (r *textReporter) ObserveRun(_ context.Context, report updater.Report) {
	if r.quiet || report.Err != nil {
		return
	}
	fmt.Fprintf(r.out, "Checked %d tool(s): %d updated, %d failed\n",
		len(report.Results), report.Count(updater.StatusUpdated), report.Count(updater.StatusFailed))
	if report.DryRun {
		fmt.Fprintf(r.out, "Dry run: %s not written\n", report.Path)
	}
}

func failureLine(result updater.Result) string {
	var fetchErr *index.FetchError
	if errors.As(result.Err, &fetchErr) {
		switch fetchErr.Code {
		case index.ErrorCodeUpstreamStatus:
			return fmt.Sprintf("Error fetching data for %s: %d", result.Tool, fetchErr.StatusCode)
		case index.ErrorCodeVersionNotFound:
			return fmt.Sprintf("Version not found for %s", result.Tool)
		}
		if fetchErr.Err != nil {
			return fmt.Sprintf("Error fetching data for %s: %v", result.Tool, fetchErr.Err)
		}
	}
	return fmt.Sprintf("Error fetching data for %s: %v", result.Tool, result.Err)
}

func isQuiet(cmd *cobra.Command) bool {
	quiet, _ := cmd.Flags().GetBool("quiet")
	return quiet
}

// newLogger returns a text logger on stderr. Diagnostics stay at error level
// unless --verbose is set; the reporter owns normal output.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelError
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && !isQuiet(cmd) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
