// Package errors provides standardized error handling for pipeline transitions.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Validation errors: never reach the network.
	ErrCodeValidationDenied  ErrorCode = "VALIDATION_DENIED"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Remote errors: a committed transition failed server-side.
	ErrCodeRemoteFailure            ErrorCode = "REMOTE_FAILURE"
	ErrCodeResponseValidationFailed ErrorCode = "RESPONSE_VALIDATION_FAILED"

	// Reconciliation errors.
	ErrCodeStaleReconciliation ErrorCode = "STALE_RECONCILIATION"

	// Lookup errors.
	ErrCodeApplicationNotFound   ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeStageInstanceNotFound ErrorCode = "STAGE_INSTANCE_NOT_FOUND"
	ErrCodeTemplateNotFound      ErrorCode = "TEMPLATE_NOT_FOUND"

	// Infrastructure errors.
	ErrCodeTemplateCacheFailed ErrorCode = "TEMPLATE_CACHE_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationDeniedError creates a non-retryable validation error. These
// never reach the network; the UI surfaces them as a disabled control.
func NewValidationDeniedError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationDenied,
		Message:   "Transition not permitted",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError creates a non-retryable stage lifecycle error.
func NewInvalidTransitionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Stage instance transition not permitted",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRemoteFailureError creates a retryable remote error. The operator may
// retry the action; there is no automatic retry.
func NewRemoteFailureError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRemoteFailure,
		Message:   fmt.Sprintf("Remote operation '%s' failed", operation),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponseValidationFailedError creates a retryable error for a server
// payload that failed schema validation before reconciliation.
func NewResponseValidationFailedError(operation, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeResponseValidationFailed,
		Message:   fmt.Sprintf("Response of '%s' failed schema validation", operation),
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleReconciliationError marks a response superseded by a newer local
// mutation. Stale responses are discarded, never applied.
func NewStaleReconciliationError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStaleReconciliation,
		Message:   "Response superseded by a newer local mutation",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewApplicationNotFoundError creates a non-retryable lookup error.
func NewApplicationNotFoundError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "Application not found in store",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStageInstanceNotFoundError creates a non-retryable lookup error.
func NewStageInstanceNotFoundError(applicationID string, order int) *StandardError {
	return &StandardError{
		Code:      ErrCodeStageInstanceNotFound,
		Message:   "Stage instance not found",
		Details:   fmt.Sprintf("applicationId: %s, order: %d", applicationID, order),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotFoundError creates a non-retryable template lookup error.
func NewTemplateNotFoundError(jobID string, order int) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Stage template not found for job",
		Details:   fmt.Sprintf("jobId: %s, order: %d", jobID, order),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateCacheFailedError creates a retryable cache error.
func NewTemplateCacheFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateCacheFailed,
		Message:   "Stage template cache error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	if se, ok := err.(*StandardError); ok {
		return se.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode of a StandardError, or "" for other errors.
func CodeOf(err error) ErrorCode {
	if se, ok := err.(*StandardError); ok {
		return se.Code
	}
	return ""
}
