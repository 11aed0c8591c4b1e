package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/camrig/internal/faults"
)

// cliError attaches a user-facing headline to an error.
type cliError struct {
	context string
	err     error
}

func (e *cliError) Error() string { return e.context + ": " + e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func fail(context string, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{context: context, err: err}
}

// showError prints the boxed error report, including the captured stderr
// tail of any failed external tool.
func showError(w io.Writer, err error) {
	headline := "Command failed"
	var ce *cliError
	if errors.As(err, &ce) {
		headline = ce.context
		err = ce.err
	}

	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 CAMRIG ERROR: %s\n", headline)
	fmt.Fprintf(w, "DETAILS: %v\n", err)

	if diag := collectDiagnostics(err); diag != "" {
		fmt.Fprintf(w, "\nFFMPEG LOGS:\n%s\n", diag)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// collectDiagnostics gathers the stderr tails of every failed process in
// err, since multi-target jobs report several failures at once.
func collectDiagnostics(err error) string {
	switch e := err.(type) {
	case nil:
		return ""
	case *faults.ProcessError:
		return strings.TrimSpace(e.Diagnostics)
	case interface{ Unwrap() []error }:
		var parts []string
		for _, inner := range e.Unwrap() {
			if d := collectDiagnostics(inner); d != "" {
				parts = append(parts, d)
			}
		}
		return strings.Join(parts, "\n")
	case interface{ Unwrap() error }:
		return collectDiagnostics(e.Unwrap())
	}
	return ""
}
