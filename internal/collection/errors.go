package collection

import (
	"errors"
	"fmt"
)

// ErrStaleScope is returned when a load finishes after the collection has
// been rebound to another scope. Its result was discarded.
var ErrStaleScope = errors.New("collection: scope changed while loading")

type LoadError struct {
	Scope string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %q: %v", e.Scope, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type SubscriptionError struct {
	Scope string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %q: %v", e.Scope, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// WriteError reports a rejected optimistic write. The placeholder has
// already been removed when it is returned.
type WriteError struct {
	LocalID string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.LocalID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
