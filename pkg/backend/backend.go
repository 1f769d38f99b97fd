// Package backend defines the capability the pipeline delivers batches to:
// submit an ordered batch of versioned operations, learn the highest accepted
// version back. The concrete transport is swappable; tests use the in-memory
// implementation and production uses the HTTP client.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxorio/runlog/pkg/operation"
)

// OpError flags one malformed operation inside an otherwise accepted batch.
// Such operations are consumed (acked) and never retried.
type OpError struct {
	Version uint64 `json:"version"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e OpError) Error() string {
	return fmt.Sprintf("operation %d rejected (%s): %s", e.Version, e.Code, e.Message)
}

// Result is the outcome of a successful Execute call. The backend accepts a
// prefix of the batch in order; AcceptedUpTo is the highest version of that
// prefix. Errors lists per-operation permanent rejections within it.
type Result struct {
	AcceptedUpTo uint64    `json:"acceptedUpTo"`
	Errors       []OpError `json:"errors,omitempty"`
}

// Backend accepts batches of versioned operations. Execute either returns a
// Result or an error: transient errors (wrapped in TransportError) are
// retried by the caller, anything else is a permanent batch rejection.
type Backend interface {
	Execute(ctx context.Context, batch []operation.Versioned) (Result, error)
}

// TransportError marks a transient delivery failure: the batch was not
// consumed and should be retried with backoff.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransportError{Err: err} }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
