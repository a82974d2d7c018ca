// Package apperr classifies errors into the kinds callers act on:
// validation, not-found, provider, store and timeout failures.
package apperr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind is the category of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindProvider
	KindStore
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindProvider:
		return "provider"
	case KindStore:
		return "store"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNotFound is the sentinel wrapped by NotFound errors.
var ErrNotFound = errors.New("not found")

// Validation returns a validation error for malformed input.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: eris.Errorf(format, args...)}
}

// NotFound returns an error wrapping ErrNotFound.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Err: eris.Wrap(ErrNotFound, fmt.Sprintf(format, args...))}
}

// Store marks err as a durable store failure.
func Store(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStore, Err: eris.Wrap(err, msg)}
}

// Provider marks err as a single provider call failure.
func Provider(err error, provider string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindProvider, Err: eris.Wrapf(err, "provider %s", provider)}
}

// Timeout marks err as a provider deadline expiry.
func Timeout(err error, provider string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTimeout, Err: eris.Wrapf(err, "provider %s timed out", provider)}
}

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound || errors.Is(err, ErrNotFound)
}

// IsStore reports whether err is a store error.
func IsStore(err error) bool { return KindOf(err) == KindStore }

// IsProvider reports whether err is a provider error, timeouts included.
func IsProvider(err error) bool {
	k := KindOf(err)
	return k == KindProvider || k == KindTimeout
}
