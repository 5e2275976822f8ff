// Package pubsub carries messages between agents. The publisher retries
// only failures that retrying can fix, with full-jitter exponential
// backoff bounded by the caller's deadline.
package pubsub

import (
	"errors"
	"fmt"
)

// Code classifies a transport failure, mirroring gRPC status vocabulary.
type Code string

const (
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	CodeAborted            Code = "ABORTED"
	CodeInternal           Code = "INTERNAL"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeUnknown            Code = "UNKNOWN"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
)

// retryableCodes is the closed set of failures worth retrying. Everything
// else fails immediately; retrying a permission error only delays the
// inevitable.
var retryableCodes = map[Code]bool{
	CodeUnavailable:       true,
	CodeDeadlineExceeded:  true,
	CodeAborted:           true,
	CodeInternal:          true,
	CodeResourceExhausted: true,
	CodeUnknown:           true,
}

// TransportError is a classified transport failure.
type TransportError struct {
	Code  Code
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("pubsub: transport error %s", e.Code)
	}
	return fmt.Sprintf("pubsub: transport error %s: %v", e.Code, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// NewTransportError wraps cause with a classification code.
func NewTransportError(code Code, cause error) *TransportError {
	return &TransportError{Code: code, Cause: cause}
}

// Retryable reports whether err is worth another attempt. Unclassified
// errors are treated as programmer errors and are not retried.
func Retryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return retryableCodes[te.Code]
	}
	return false
}
