package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest reports a missing or malformed required field.
	ErrInvalidRequest = errors.New("chat: invalid request")
	// ErrMethodNotAllowed reports a wrong HTTP verb.
	ErrMethodNotAllowed = errors.New("chat: method not allowed")
	// ErrSchemaMissing reports that a chat table does not exist yet. It is recoverable.
	ErrSchemaMissing = errors.New("chat: schema missing")
	// ErrStorageUnavailable reports a store failure that survived the schema repair.
	ErrStorageUnavailable = errors.New("chat: storage unavailable")
	// ErrNotFound reports a referenced entity that does not exist.
	ErrNotFound = errors.New("chat: not found")
	// ErrUpstreamProvider reports a third-party failure. Local writes are never rolled back for it.
	ErrUpstreamProvider = errors.New("chat: upstream provider error")
)

// OpError ties an error kind to the operation that produced it.
// errors.Is matches both Kind and the wrapped cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Kind == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Invalid builds an ErrInvalidRequest for op with a human-readable reason.
func Invalid(op, reason string) error {
	return &OpError{Op: op, Kind: ErrInvalidRequest, Err: errors.New(reason)}
}

// Unavailable wraps err as ErrStorageUnavailable.
func Unavailable(op string, err error) error {
	return &OpError{Op: op, Kind: ErrStorageUnavailable, Err: err}
}

// Upstream wraps err as ErrUpstreamProvider.
func Upstream(op string, err error) error {
	return &OpError{Op: op, Kind: ErrUpstreamProvider, Err: err}
}

// Reason returns the innermost human-readable message of an OpError, or err.Error().
func Reason(err error) string {
	var op *OpError
	if errors.As(err, &op) && op.Err != nil {
		return op.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// SchemaMissing wraps a store's missing-relation error as ErrSchemaMissing.
func SchemaMissing(op string, err error) error {
	return &OpError{Op: op, Kind: ErrSchemaMissing, Err: err}
}

// MethodNotAllowed reports method used on a path that does not accept it.
func MethodNotAllowed(method, path string) error {
	return &OpError{Op: path, Kind: ErrMethodNotAllowed, Err: fmt.Errorf("%s not allowed", method)}
}

// NotFound builds an ErrNotFound for op naming the missing entity.
func NotFound(op, what string) error {
	return &OpError{Op: op, Kind: ErrNotFound, Err: fmt.Errorf("%s not found", what)}
}
