package task

import "fmt"

// ErrorKind enumerates the execution error kinds from §7. All of these
// are absorbed at the engine boundary and turned into Status Failed; the
// engine's public API never raises for task-level failures.
type ErrorKind string

const (
	ErrNoPlacement           ErrorKind = "no_placement"
	ErrContainerNonZero      ErrorKind = "container_non_zero"
	ErrContainerTimeout      ErrorKind = "container_timeout"
	ErrOutputUnparsable      ErrorKind = "output_unparsable"
	ErrRemoteHTTPError       ErrorKind = "remote_http_error"
	ErrRemoteReportedFailure ErrorKind = "remote_reported_failure"
	ErrInternalError         ErrorKind = "internal_error"
)

// ExecutionError wraps an underlying cause with the error kind it maps
// to, so logs keep the full chain (via Unwrap) while the task record
// keeps just the human-readable message.
type ExecutionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Fail builds an *ExecutionError of the given kind wrapping err.
func Fail(kind ErrorKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: err}
}
