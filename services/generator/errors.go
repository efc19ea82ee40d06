package generator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrConfiguration classifies a malformed or contradictory request.
	ErrConfiguration = errors.New("invalid generation request")
	// ErrRecursionLimit classifies a recursion depth above the ceiling.
	ErrRecursionLimit = errors.New("recursion depth exceeds limit")
)

// ConfigError reports the request field that failed validation. It matches
// ErrConfiguration, and Err when set, under errors.Is.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

func configError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IOError reports a filesystem failure while creating, writing, reading or
// removing an archive. Path names the offending file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	var pe *fs.PathError
	if errors.As(e.Err, &pe) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ioError wraps err as an *IOError, leaving context cancellation and errors
// that are already classified untouched.
func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *IOError
	if errors.As(err, &existing) {
		return err
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		op, path = pe.Op, pe.Path
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func fmtLimit(depth, limit int) string {
	return fmt.Sprintf("%d exceeds the limit of %d", depth, limit)
}
