// Package errs defines the tagged failures returned by the governance engine.
//
// Every failure that crosses a component boundary is an *Error carrying a Kind,
// so callers can decide whether to retry, escalate, or abandon a step with
// errors.Is against the sentinels below or with KindOf.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindAccessDenied         Kind = "access_denied"
	KindInvalidType          Kind = "invalid_type"
	KindInvalidTemplate      Kind = "invalid_template"
	KindInvalidInput         Kind = "invalid_input"
	KindNotFound             Kind = "not_found"
	KindUpstreamTimeout      Kind = "upstream_timeout"
	KindConsistencyConflict  Kind = "consistency_conflict"
	KindConsolidationFailure Kind = "consolidation_failure"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrAccessDenied         = &Error{Kind: KindAccessDenied}
	ErrInvalidType          = &Error{Kind: KindInvalidType}
	ErrInvalidTemplate      = &Error{Kind: KindInvalidTemplate}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrUpstreamTimeout      = &Error{Kind: KindUpstreamTimeout}
	ErrConsistencyConflict  = &Error{Kind: KindConsistencyConflict}
	ErrConsolidationFailure = &Error{Kind: KindConsolidationFailure}
)

// Error is a failure with a kind, the operation that produced it and a
// human-readable message.
type Error struct {
	Kind Kind   `json:"kind"`
	Op   string `json:"op,omitempty"`
	Msg  string `json:"message"`
	Err  error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an *Error with a formatted message.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: string(kind), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err is a transient upstream failure.
func Retryable(err error) bool {
	return KindOf(err) == KindUpstreamTimeout
}
