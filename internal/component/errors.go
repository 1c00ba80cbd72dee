package component

import (
	"errors"
	"fmt"
)

// Errors used throughout the codebase. Callers wrap these with additional
// context and match them with errors.Is.
var (
	// ErrConfiguration indicates missing or malformed configuration, it is
	// fatal during initialisation and aborts startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrProtocol indicates a malformed or unrecognised command. It is logged
	// and otherwise ignored.
	ErrProtocol = errors.New("protocol error")

	// ErrProcessing wraps a failure returned (or a panic raised) by a user
	// supplied callback. It is isolated to a single message.
	ErrProcessing = errors.New("processing error")

	// ErrResource indicates that a broker resource was already closed while it
	// was being queried during shutdown.
	ErrResource = errors.New("resource error")

	// ErrTermination indicates that a blocking wait on a permit or signal was
	// interrupted because the process is being torn down.
	ErrTermination = errors.New("terminated while waiting")

	// ErrIllegalArgument is returned by constructors given invalid arguments.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrTypeClosed is returned when an operation is attempted on a type that
	// has already been closed.
	ErrTypeClosed = errors.New("type was closed")
)

// ConfigurationError returns an error wrapping ErrConfiguration.
func ConfigurationError(format string, v ...any) error {
	return fmt.Errorf("%w: %v", ErrConfiguration, fmt.Sprintf(format, v...))
}

// TerminationError wraps the reason a wait was interrupted (usually a context
// error) with ErrTermination.
func TerminationError(what string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w for %v", ErrTermination, what)
	}
	return fmt.Errorf("%w for %v: %w", ErrTermination, what, cause)
}

// ProcessingError wraps a callback failure with ErrProcessing.
func ProcessingError(cause error) error {
	return fmt.Errorf("%w: %w", ErrProcessing, cause)
}

// PanicError converts a recovered panic value into a processing error.
func PanicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: callback panicked: %w", ErrProcessing, err)
	}
	return fmt.Errorf("%w: callback panicked: %v", ErrProcessing, r)
}
