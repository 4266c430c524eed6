package system

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure classes of volume orchestration.
// Use errors.Is() to check for these rather than string matching.
var (
	// ErrToolNotFound indicates the encryption tool is missing or does not run
	ErrToolNotFound = errors.New("encryption tool not found")

	// ErrProcessSpawn indicates an external command could not be started
	ErrProcessSpawn = errors.New("failed to start process")

	// ErrProcessExit indicates an external command exited with a non-zero code
	ErrProcessExit = errors.New("process exited with non-zero status")

	// ErrParse indicates discovery output did not match the expected structure
	ErrParse = errors.New("unexpected command output")

	// ErrValidation indicates a missing or invalid parameter
	ErrValidation = errors.New("validation failed")

	// ErrUnsupported indicates an operation this tool deliberately does not perform
	ErrUnsupported = errors.New("unsupported operation")

	// ErrCancelled indicates the operation was cancelled before it settled
	ErrCancelled = errors.New("operation cancelled")

	// ErrNotFound indicates a requested disk or volume is unknown
	ErrNotFound = errors.New("not found")
)

// ExitError reports a command that ran but exited unsuccessfully.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if msg := lastLine(e.Stderr); msg != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.Code, msg)
	}
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// Is lets errors.Is(err, ErrProcessExit) match.
func (e *ExitError) Is(target error) bool {
	return target == ErrProcessExit
}

// Message returns the most useful line the tool wrote to its error stream.
func (e *ExitError) Message() string {
	if msg := lastLine(e.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ValidationError is a parameter problem caught before anything is spawned.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func lastLine(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
