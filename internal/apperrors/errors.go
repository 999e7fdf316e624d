// Package apperrors defines the error taxonomy shared by the orchestrator,
// the benchmark harness and the HTTP layer.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoEngineAvailable is returned by hybrid analysis when no engine is
// loaded or every engine call failed.
var ErrNoEngineAvailable = errors.New("no detection engine available")

// EngineUnavailableError reports that the requested engine never loaded.
type EngineUnavailableError struct {
	Engine string
}

func (e EngineUnavailableError) Error() string {
	return fmt.Sprintf("%s not available", e.Engine)
}

// EngineError wraps a failure raised by a loaded engine during a call.
// Timeouts are reported as an EngineError wrapping context.DeadlineExceeded.
type EngineError struct {
	Engine string
	Cause  error
}

func (e EngineError) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.Engine, e.Cause)
}

// Unwrap returns the underlying cause so errors.Is can see through the wrapper.
func (e EngineError) Unwrap() error { return e.Cause }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// ValidationError represents a request that cannot be processed as given.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
}

// IsContextError reports whether err is a cancellation or deadline error.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsEngineUnavailable reports whether err carries an EngineUnavailableError.
func IsEngineUnavailable(err error) bool {
	var target EngineUnavailableError
	return errors.As(err, &target)
}

// IsEngineError reports whether err carries an EngineError.
func IsEngineError(err error) bool {
	var target EngineError
	return errors.As(err, &target)
}

// HTTPStatus maps an error from the analysis path to a response status.
func HTTPStatus(err error) int {
	var validation ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case IsEngineUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled) && !IsEngineError(err):
		// nginx convention for a client that went away; an engine that
		// cancelled its own work is still a server-side failure
		return 499
	default:
		return http.StatusInternalServerError
	}
}
