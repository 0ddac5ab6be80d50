package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrNoClassification = errors.New("classification not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("state conflict")
	ErrTemporary        = errors.New("temporary failure")

	ErrStorage         = errors.New("storage failure")
	ErrAIService       = errors.New("ai service failure")
	ErrResolution      = errors.New("category resolution failure")
	ErrExternalProcess = errors.New("external process failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ExternalProcessError describes a failed run of the extraction engine.
type ExternalProcessError struct {
	Command  string
	ExitCode int
	TimedOut bool
	Stderr   string
	Err      error
}

func (e *ExternalProcessError) Error() string {
	var b strings.Builder
	b.WriteString("extraction engine")
	if e.Command != "" {
		b.WriteString(" ")
		b.WriteString(e.Command)
	}
	switch {
	case e.TimedOut:
		b.WriteString(" timed out")
	case e.ExitCode > 0:
		fmt.Fprintf(&b, " exited with code %d", e.ExitCode)
	default:
		b.WriteString(" failed")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString("; stderr: ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *ExternalProcessError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExternalProcess}
	}
	return []error{ErrExternalProcess, e.Err}
}
