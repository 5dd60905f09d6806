// Package errs provides the typed error kinds surfaced by the capture
// pipeline.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for exit-code and handling decisions.
type Kind string

const (
	// KindConfig indicates an invalid option combination, raised before
	// any run directory is created.
	KindConfig Kind = "config_error"
	// KindLaunch indicates the browser engine failed to start.
	KindLaunch Kind = "launch_error"
	// KindNavigation indicates the initial navigation failed.
	KindNavigation Kind = "navigation_error"
	// KindDeadline indicates the global run deadline fired.
	KindDeadline Kind = "deadline_exceeded"
	// KindInternal covers unexpected pipeline failures.
	KindInternal Kind = "internal_error"
)

// Error is the base error type for run failures.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewConfig creates a configuration error.
func NewConfig(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// NewConfigf creates a configuration error with formatting.
func NewConfigf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// NewLaunch wraps a browser launch failure.
func NewLaunch(err error) *Error {
	return &Error{Kind: KindLaunch, Message: "browser launch failed", Err: err}
}

// NewNavigation wraps a navigation failure.
func NewNavigation(url string, err error) *Error {
	return &Error{Kind: KindNavigation, Message: fmt.Sprintf("navigation to %s failed", url), Err: err}
}

// NewDeadline reports the global deadline firing in the named stage.
func NewDeadline(stage string) *Error {
	return &Error{Kind: KindDeadline, Message: fmt.Sprintf("run deadline reached during %s", stage)}
}

// NewInternal wraps an unexpected failure.
func NewInternal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf extracts the Kind from err, or KindInternal when err is not a
// pipeline error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
