// Package apperr defines the sentinel errors shared by the server and the
// error kinds surfaced by the feed engine.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalid       = errors.New("invalid")
)

// Kind classifies a failure for the feed view.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers network failures and timeouts. The user may retry.
	KindTransient
	// KindAuthorization means the collaborator rejected the request. Surfaced
	// as "not found" so existence is never leaked.
	KindAuthorization
	// KindValidation is raised before any network call.
	KindValidation
	// KindPartial marks a degradation that affects one item only.
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Error is a classified failure of a single operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Authorization wraps err as a rejected request.
func Authorization(op string, err error) error {
	if err == nil {
		err = ErrNotFound
	}
	return &Error{Kind: KindAuthorization, Op: op, Err: err}
}

// Validation returns a validation failure for op.
func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// Partial wraps err as a per-item degradation.
func Partial(op string, err error) error {
	return &Error{Kind: KindPartial, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain. Errors that
// were never classified are treated as transient, except the validation and
// authorization sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrInvalid):
		return KindValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnauthorized):
		return KindAuthorization
	}
	return KindTransient
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindAuthorization:
		return "not found or not yours"
	case KindValidation:
		var e *Error
		if errors.As(err, &e) && e.Err != nil {
			return e.Err.Error()
		}
		return "invalid input"
	case KindPartial:
		return "some items could not be loaded"
	default:
		return "could not reach the server, try again"
	}
}
