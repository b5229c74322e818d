package hive

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeCapabilityNotFound  = "CAPABILITY_NOT_FOUND"
	ErrCodeCapabilityExecution = "CAPABILITY_EXECUTION_ERROR"
	ErrCodeArgResolution       = "ARGUMENT_RESOLUTION_ERROR"
	ErrCodePlanValidation      = "PLAN_VALIDATION_ERROR"
	ErrCodeReasoner            = "REASONER_ERROR"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeCancelled           = "EXECUTION_CANCELLED"
	ErrCodeTimeout             = "EXECUTION_TIMEOUT"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Error is the coded error type shared by every hive component.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeCapabilityNotFound)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "search", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// IsHiveError reports whether err carries a hive *Error anywhere in its chain.
func IsHiveError(err error) bool {
	var he *Error
	return errors.As(err, &he)
}

// CodeOf returns the code of the first hive *Error in err's chain, or "".
func CodeOf(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

func NewValidationError(stage, message string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewCapabilityNotFoundError(stage, capabilityID string) *Error {
	return NewError(ErrCodeCapabilityNotFound, stage, fmt.Sprintf("capability '%s' not found", capabilityID), nil)
}

func NewCapabilityExecutionError(stage, capabilityID string, cause error) *Error {
	return NewError(ErrCodeCapabilityExecution, stage, fmt.Sprintf("execution failed for capability '%s'", capabilityID), cause)
}

func NewArgResolutionError(stage, nodeID, argName string, cause error) *Error {
	msg := fmt.Sprintf("failed to resolve argument '%s' for node '%s'", argName, nodeID)
	return NewError(ErrCodeArgResolution, stage, msg, cause)
}

func NewPlanValidationError(message string, cause error) *Error {
	return NewError(ErrCodePlanValidation, "scheduling", message, cause)
}

func NewReasonerError(stage string, cause error) *Error {
	return NewError(ErrCodeReasoner, stage, "reasoner call failed", cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewRateLimitedError(stage, capabilityID string, cause error) *Error {
	return NewError(ErrCodeRateLimited, stage, fmt.Sprintf("capability '%s' was rate limited", capabilityID), cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}
