// Package domain defines the core domain models for SnapMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
//
// For management operations the code is the reject code surfaced to the
// caller, and Details carries the operator-facing reject message.
type DomainError struct {
	Code    string // Error code (e.g., "CanisterNotFound")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// RejectMessage returns the text shown to the caller of a rejected request.
func (e *DomainError) RejectMessage() string {
	if e.Details != "" {
		return e.Details
	}
	return e.Message
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Reject codes returned by management operations.
const (
	CodeCanisterNotFound               = "CanisterNotFound"
	CodeCanisterRejectedMessage        = "CanisterRejectedMessage"
	CodeDestinationInvalid             = "DestinationInvalid"
	CodeCanisterSnapshotNotFound       = "CanisterSnapshotNotFound"
	CodeSubnetOversubscribed           = "SubnetOversubscribed"
	CodeCanisterHeapDeltaRateLimited   = "CanisterHeapDeltaRateLimited"
	CodeInsufficientCyclesInMemoryGrow = "InsufficientCyclesInMemoryGrow"
	CodeCanisterInvalidController      = "CanisterInvalidController"
	CodeInvalidManagementPayload       = "InvalidManagementPayload"
	CodeCanisterMethodNotFound         = "CanisterMethodNotFound"
	CodeCanisterAlreadyExists          = "CanisterAlreadyExists"
)

// ============================================================================
// Not-found Errors
// ============================================================================

var (
	// ErrCanisterNotFound indicates the target canister does not exist.
	ErrCanisterNotFound = NewDomainError(CodeCanisterNotFound, "canister not found")

	// ErrCanisterSnapshotNotFound indicates the named snapshot does not exist.
	ErrCanisterSnapshotNotFound = NewDomainError(CodeCanisterSnapshotNotFound, "snapshot not found")

	// ErrDestinationInvalid indicates the snapshot to replace does not exist.
	ErrDestinationInvalid = NewDomainError(CodeDestinationInvalid, "invalid destination")
)

// ============================================================================
// Authorization Errors
// ============================================================================

var (
	// ErrCanisterRejectedMessage covers controller mismatches, ownership
	// mismatches and per-canister admission failures.
	ErrCanisterRejectedMessage = NewDomainError(CodeCanisterRejectedMessage, "canister rejected the message")

	// ErrCanisterInvalidController indicates the sender is not a controller.
	ErrCanisterInvalidController = NewDomainError(CodeCanisterInvalidController, "invalid controller")
)

// ============================================================================
// Admission Errors
// ============================================================================

var (
	// ErrSubnetOversubscribed indicates the subnet has no room for the request.
	ErrSubnetOversubscribed = NewDomainError(CodeSubnetOversubscribed, "subnet oversubscribed")

	// ErrHeapDeltaRateLimited indicates the write-rate ceiling was reached.
	ErrHeapDeltaRateLimited = NewDomainError(CodeCanisterHeapDeltaRateLimited, "heap delta rate limited")

	// ErrInsufficientCycles indicates the charge would drop the balance below
	// the freezing threshold.
	ErrInsufficientCycles = NewDomainError(CodeInsufficientCyclesInMemoryGrow, "insufficient cycles in memory grow")
)

// ============================================================================
// Request Errors
// ============================================================================

var (
	// ErrInvalidManagementPayload indicates the request payload failed to decode.
	ErrInvalidManagementPayload = NewDomainError(CodeInvalidManagementPayload, "invalid management payload")

	// ErrMethodNotFound indicates an unknown management method.
	ErrMethodNotFound = NewDomainError(CodeCanisterMethodNotFound, "management method not found")

	// ErrCanisterAlreadyExists indicates a create request for an existing id.
	ErrCanisterAlreadyExists = NewDomainError(CodeCanisterAlreadyExists, "canister already exists")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("SM-SYS-5000", "internal server error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("SM-SYS-5001", "storage error")

	// ErrServiceUnavailable indicates the service is temporarily unavailable.
	ErrServiceUnavailable = NewDomainError("SM-SYS-5030", "service unavailable")

	// ErrNotLeader indicates a write reached a follower that could not forward it.
	ErrNotLeader = NewDomainError("SM-SYS-5031", "not the cluster leader")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("SM-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("SM-SYS-4290", "too many requests")
)
