// Package faults defines the error taxonomy shared by every media component.
//
// Three marker errors classify failures: ErrInvalidInput (rejected before any
// subprocess is spawned), ErrProcessFailure (an external tool exited non-zero)
// and ErrPipeFault (a write hit a closed or broken pipe). Specific errors wrap
// one of the markers so callers can match either level with errors.Is.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrProcessFailure = errors.New("process failure")
	ErrPipeFault      = errors.New("pipe fault")
)

var (
	ErrShapeMismatch       = fmt.Errorf("%w: frame shape mismatch", ErrInvalidInput)
	ErrUnknownSession      = fmt.Errorf("%w: unknown session", ErrInvalidInput)
	ErrSessionClosing      = fmt.Errorf("%w: session closing", ErrInvalidInput)
	ErrSourceUnreadable    = fmt.Errorf("%w: source unreadable", ErrInvalidInput)
	ErrNoTargets           = fmt.Errorf("%w: no targets specified", ErrInvalidInput)
	ErrNonPositiveDuration = fmt.Errorf("%w: non-positive duration", ErrInvalidInput)

	ErrPipeClosed = fmt.Errorf("%w: pipe closed", ErrPipeFault)
)

// ProcessError reports an external tool that exited with a non-zero status.
// Diagnostics holds the tail of the tool's stderr stream.
type ProcessError struct {
	Name        string
	ExitCode    int
	Diagnostics string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
	if d := strings.TrimSpace(e.Diagnostics); d != "" {
		msg += ": " + d
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return ErrProcessFailure }

// Wrap tags err with a marker and an operation context. The result matches
// both the marker and err under errors.Is.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrProcessFailure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Invalid is shorthand for an ErrInvalidInput with a formatted message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Diagnostics extracts the captured stderr tail from a process failure, if any.
func Diagnostics(err error) string {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Diagnostics
	}
	return ""
}

// HTTPStatus maps an error to the status code an HTTP caller should see.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionClosing):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "media failure"
	}
	return strings.Join(parts, ": ")
}
