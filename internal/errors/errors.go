// Package errors defines the classified error taxonomy for the client core.
// Every asynchronous entry point terminates in one of these classified
// outcomes; nothing escapes unclassified.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies an error class machine-readably.
type Code string

const (
	// CodeInitializationFailed marks a failed session instance construction.
	// Fatal to that acquisition attempt only, never process-wide.
	CodeInitializationFailed Code = "initialization_failed"

	// Credential errors. Recoverable by re-attempting login.
	CodeAuthCancelled      Code = "auth_cancelled"
	CodeAuthFailed         Code = "auth_failed"
	CodeTokenMalformed     Code = "token_malformed"
	CodeRefreshUnavailable Code = "refresh_unavailable"

	// Sync errors. Absorbed by the sync engine via rollback and bounded retry.
	CodeRemoteUnreachable Code = "remote_unreachable"
	CodeRemoteRejected    Code = "remote_rejected"
	CodeRemoteTimeout     Code = "remote_timeout"

	// CodeInternal covers unexpected conditions.
	CodeInternal Code = "internal"
)

// ServiceError is the error type carried across component boundaries.
type ServiceError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail entry and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with the given code and message.
func New(code Code, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: cause}
}

// InitializationFailed marks a session construction failure.
func InitializationFailed(message string, cause error) *ServiceError {
	return New(CodeInitializationFailed, message, cause)
}

// AuthCancelled marks an interactive flow dismissed by the user.
func AuthCancelled(message string) *ServiceError {
	return New(CodeAuthCancelled, message, nil)
}

// AuthFailed marks a transport or provider failure during acquisition.
func AuthFailed(message string, cause error) *ServiceError {
	return New(CodeAuthFailed, message, cause)
}

// TokenMalformed marks undecodable credential claims. Callers treat this
// identically to having no token at all.
func TokenMalformed(cause error) *ServiceError {
	return New(CodeTokenMalformed, "token claims undecodable", cause)
}

// RefreshUnavailable marks a silent refresh attempt with no refreshable
// material present.
func RefreshUnavailable(message string) *ServiceError {
	return New(CodeRefreshUnavailable, message, nil)
}

// RemoteUnreachable marks a failed connection to the remote authority.
func RemoteUnreachable(cause error) *ServiceError {
	return New(CodeRemoteUnreachable, "remote authority unreachable", cause)
}

// RemoteRejected marks a non-success status from the remote authority.
func RemoteRejected(status int) *ServiceError {
	return New(CodeRemoteRejected, fmt.Sprintf("remote authority rejected request with status %d", status), nil).
		WithDetails("status", status)
}

// RemoteTimeout marks a remote call that exceeded its deadline. Treated
// identically to a network failure for rollback and retry purposes.
func RemoteTimeout(cause error) *ServiceError {
	return New(CodeRemoteTimeout, "remote authority call timed out", cause)
}

// Internal marks an unexpected condition.
func Internal(message string, cause error) *ServiceError {
	return New(CodeInternal, message, cause)
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// IsCredentialError reports whether err belongs to the credential class.
func IsCredentialError(err error) bool {
	se := GetServiceError(err)
	if se == nil {
		return false
	}
	switch se.Code {
	case CodeAuthCancelled, CodeAuthFailed, CodeTokenMalformed, CodeRefreshUnavailable:
		return true
	}
	return false
}

// IsSyncError reports whether err belongs to the sync class.
func IsSyncError(err error) bool {
	se := GetServiceError(err)
	if se == nil {
		return false
	}
	switch se.Code {
	case CodeRemoteUnreachable, CodeRemoteRejected, CodeRemoteTimeout:
		return true
	}
	return false
}
