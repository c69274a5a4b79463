package strata

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice on a Runtime.
	ErrAlreadyStarted = errors.New("strata: runtime already started")

	// ErrAlreadyBound is returned when a Proxy is bound twice.
	ErrAlreadyBound = errors.New("strata: proxy already bound")

	// ErrSinkType is returned when a named sink does not carry the requested stream type.
	ErrSinkType = errors.New("strata: sink has unexpected type")

	// ErrMissingKey is returned when a collection item has no extractable key.
	ErrMissingKey = errors.New("strata: collection item has no key")

	// ErrUncomparableKey is returned when an extracted key cannot be used as a map key.
	ErrUncomparableKey = errors.New("strata: collection key is not comparable")

	// ErrScopeShape is wrapped by ScopeError when a lens meets state of the wrong shape.
	ErrScopeShape = errors.New("strata: state shape does not match scope")

	// ErrReducerPanic wraps a panic raised inside a reducer.
	ErrReducerPanic = errors.New("strata: reducer panicked")

	// ErrPanic wraps a non-error panic raised inside an operator callback.
	ErrPanic = errors.New("strata: operator panicked")
)

// ScopeError reports a lens applied to state it cannot address.
type ScopeError struct {
	Scope  Scope
	Op     string
	Reason string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("strata: %s %v: %s", e.Op, e.Scope, e.Reason)
}

func (e *ScopeError) Unwrap() error {
	return ErrScopeShape
}

// recovered converts a recovered panic value into an error.
func recovered(r any, sentinel error) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return fmt.Errorf("%w: %v", sentinel, r)
}

// guard runs fn and reports a panic as an error.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r, ErrPanic)
		}
	}()
	fn()
	return nil
}
