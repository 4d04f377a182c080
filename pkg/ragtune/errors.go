package ragtune

import (
	"errors"
	"fmt"
)

// ErrNilDependency is returned by NewController when a required component is nil.
var ErrNilDependency = errors.New("nil dependency")

// ErrIllegalTransition is wrapped by IllegalTransitionError; check with
// errors.Is. An illegal transition is always a programming error and is never
// recovered inside the engine.
var ErrIllegalTransition = errors.New("illegal pool transition")

// ErrRetrievalFailed is wrapped by FatalRetrievalError when the original-query
// retrieval fails. Rewrite retrievals are recoverable and never surface it.
var ErrRetrievalFailed = errors.New("original retrieval failed")

// ErrRunnerClosed is returned for submissions after Runner.Close.
var ErrRunnerClosed = errors.New("runner is closed")

// IllegalTransitionError reports a pool transition that violates the state
// machine. The pool guarantees no state was mutated when it is returned.
type IllegalTransitionError struct {
	DocID string
	From  ItemState
	To    ItemState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal pool transition for %q: %s -> %s", e.DocID, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// FatalRetrievalError is the request's error when the original-query
// retrieval fails. It carries the trace recorded up to the fatal point so the
// caller can still explain what happened.
type FatalRetrievalError struct {
	Query string
	Trace *Trace
	Err   error
}

func (e *FatalRetrievalError) Error() string {
	return fmt.Sprintf("original retrieval failed for %q: %v", e.Query, e.Err)
}

func (e *FatalRetrievalError) Unwrap() []error { return []error{ErrRetrievalFailed, e.Err} }
