// Package errors provides structured error types for webdap.
// These errors include helpful hints and remediation steps that guide the
// user to correct course when something goes wrong.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Launch/attach orchestration errors
	CodeDependencyMissing ErrorCode = "DEPENDENCY_MISSING"
	CodeTargetNotReady    ErrorCode = "TARGET_NOT_READY"
	CodeAppLaunchFailed   ErrorCode = "APP_LAUNCH_FAILED"
	CodeProxyStartFailed  ErrorCode = "PROXY_START_FAILED"
	CodeAttachFailed      ErrorCode = "ATTACH_FAILED"
	CodeRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"

	// Session errors
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"
	CodeSessionTerminated   ErrorCode = "SESSION_TERMINATED"
	CodeChildSessionFailed  ErrorCode = "CHILD_SESSION_FAILED"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// DebugError is a structured error type that includes helpful information
// about what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the missing path, the port)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// Is reports whether target carries the same error code. This lets callers
// match on taxonomy without holding the concrete instance.
func (e *DebugError) Is(target error) bool {
	var de *DebugError
	if stderrors.As(target, &de) {
		return de.Code == e.Code
	}
	return false
}

// --- Launch/attach orchestration errors ---

// DependencyMissing creates an error for a required install path that is
// absent on disk. The hint names the exact command to remediate.
func DependencyMissing(path, installCommand string) *DebugError {
	return &DebugError{
		Code:    CodeDependencyMissing,
		Message: fmt.Sprintf("required dependency not found at %s", path),
		Hint:    fmt.Sprintf("Install it with: %s", installCommand),
		Details: map[string]interface{}{
			"path":           path,
			"installCommand": installCommand,
		},
	}
}

// TargetNotReady creates an error for a readiness poll that exhausted its
// attempt budget without the target ever answering.
func TargetNotReady(attempts int) *DebugError {
	return &DebugError{
		Code:    CodeTargetNotReady,
		Message: fmt.Sprintf("application target did not become ready after %d attempts", attempts),
		Hint:    "Check that the application started and that its remote debugging port is reachable. The target must be launched with remote debugging enabled.",
		Details: map[string]interface{}{
			"attempts": attempts,
		},
	}
}

// AppLaunchFailed wraps any launch-stage failure into a single terminal
// error. The original failure's message is preserved verbatim.
func AppLaunchFailed(err error) *DebugError {
	return &DebugError{
		Code:    CodeAppLaunchFailed,
		Message: fmt.Sprintf("failed to launch the application: %v", err),
		Hint:    "Review the underlying error. If the application started but debugging never attached, verify the remote debugging port.",
		Cause:   err,
	}
}

// ProxyStartFailed creates an error for a proxy listener bind failure.
func ProxyStartFailed(port int, err error) *DebugError {
	return &DebugError{
		Code:    CodeProxyStartFailed,
		Message: fmt.Sprintf("failed to start the debug proxy on port %d: %v", port, err),
		Hint:    "The port may be in use by another process. Stop the conflicting process or configure a different proxy port.",
		Cause:   err,
		Details: map[string]interface{}{
			"port": port,
		},
	}
}

// AttachFailed creates an error for an attach attempt that could not
// establish the child debugging session.
func AttachFailed(host string, port int, err error) *DebugError {
	return &DebugError{
		Code:    CodeAttachFailed,
		Message: fmt.Sprintf("failed to attach to the application at %s:%d: %v", host, port, err),
		Hint:    "Ensure the target is running with remote debugging enabled and that nothing else is connected to its DevTools endpoint.",
		Cause:   err,
		Details: map[string]interface{}{
			"host": host,
			"port": port,
		},
	}
}

// RetriesExhausted creates the terminal error surfaced after the reconnect
// budget has been spent.
func RetriesExhausted(attempts int, err error) *DebugError {
	return &DebugError{
		Code:    CodeRetriesExhausted,
		Message: fmt.Sprintf("connection to the application lost and could not be re-established after %d attempts", attempts),
		Hint:    "The application may have exited or its debugging endpoint became unreachable. Restart the debug session once the target is running again.",
		Cause:   err,
		Details: map[string]interface{}{
			"attempts": attempts,
		},
	}
}

// --- Session errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use debug_list_sessions to see active sessions, or use debug_launch / debug_attach to create a new one.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error when max sessions is reached
func SessionLimitReached(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Use debug_disconnect to terminate an existing session before creating a new one.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
		},
	}
}

// ChildSessionFailed creates an error when the host declined to start the
// child protocol-translation session.
func ChildSessionFailed(err error) *DebugError {
	return &DebugError{
		Code:    CodeChildSessionFailed,
		Message: fmt.Sprintf("the host could not start the child debugging session: %v", err),
		Hint:    "The translation layer may be missing or misconfigured. Check the host's debug extension installation.",
		Cause:   err,
	}
}

// --- Parameter errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, preserving any
// existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Cause:   err,
	}
}

// HasCode reports whether err (or anything it wraps) is a DebugError with
// the given code.
func HasCode(err error, code ErrorCode) bool {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code == code
	}
	return false
}
