// Package txerr defines the error taxonomy shared by transports, the local
// store and the transaction queue.
//
//   - TransportError: network, timeout or server-side failure. Retryable.
//   - PermissionError: authentication or validation rejected. Terminal.
//   - ConflictError: a uniqueness or state conflict. Terminal; local
//     reconciliation converges it, not a retry.
//   - LocalStoreError: a local write failed. Terminal.
package txerr

import (
	"context"
	"errors"
	"fmt"
)

// Code is an RPC-level status code reported by the server.
type Code int

// Codes the server uses for rejected calls. Anything else is treated as a
// transient server or transport failure.
const (
	CodeBadRequest    Code = 400
	CodeUnauthorized  Code = 401
	CodeForbidden     Code = 403
	CodeConflict      Code = 409
	CodeUnprocessable Code = 422
	CodeFlood         Code = 429
	CodeInternal      Code = 500
	CodeUnavailable   Code = 503
)

// TransportError is a failure to complete a remote call.
type TransportError struct {
	Code    Code
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("transport error: %s", e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PermissionError is an authorization or validation rejection.
type PermissionError struct {
	Code    Code
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission error %d: %s", e.Code, e.Message)
}

// ConflictError reports a uniqueness or state conflict.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Message)
}

// LocalStoreError wraps a failed local write.
type LocalStoreError struct {
	Op  string
	Err error
}

func (e *LocalStoreError) Error() string {
	return fmt.Sprintf("local store %s: %v", e.Op, e.Err)
}

func (e *LocalStoreError) Unwrap() error {
	return e.Err
}

// Transport builds a TransportError.
func Transport(code Code, message string) *TransportError {
	return &TransportError{Code: code, Message: message}
}

// WrapTransport wraps a lower level I/O error as a TransportError.
func WrapTransport(message string, err error) *TransportError {
	return &TransportError{Message: message, Err: err}
}

// Store wraps err as a LocalStoreError for op. Returns nil for a nil err.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var lse *LocalStoreError
	if errors.As(err, &lse) {
		return err
	}
	return &LocalStoreError{Op: op, Err: err}
}

// FromCode maps a server status code to the taxonomy.
func FromCode(code Code, message string) error {
	switch code {
	case CodeBadRequest, CodeUnauthorized, CodeForbidden, CodeUnprocessable:
		return &PermissionError{Code: code, Message: message}
	case CodeConflict:
		return &ConflictError{Message: message}
	default:
		return &TransportError{Code: code, Message: message}
	}
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsPermission reports whether err is a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsLocalStore reports whether err is a LocalStoreError.
func IsLocalStore(err error) bool {
	var lse *LocalStoreError
	return errors.As(err, &lse)
}

// IsTerminal reports whether err can never succeed on retry.
//
// Permission, conflict and local store errors are terminal. A TransportError
// carrying a client-error code (bad request, unauthorized) is terminal too, in
// case a transport did not map it. Timeouts, cancellation of a single attempt
// and every unknown error are retryable.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if IsPermission(err) || IsConflict(err) || IsLocalStore(err) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		switch te.Code {
		case CodeBadRequest, CodeUnauthorized, CodeForbidden, CodeUnprocessable, CodeConflict:
			return true
		}
		return false
	}
	return false
}

// IsTimeout reports whether err is an attempt timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
