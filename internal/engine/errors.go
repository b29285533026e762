package engine

import (
	"errors"
	"fmt"

	"github.com/xtrntr/p2pmarket/internal/db"
)

// Kind classifies an engine error for callers. Every kind except
// transient is non-retryable; transient wraps storage failures that are
// safe to retry with backoff.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindState      Kind = "state"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindTransient  Kind = "transient"
)

// Error carries a stable kind plus human-readable detail. It is the only
// error type the engine returns.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from an engine error; unknown errors report
// as transient so callers treat them as retryable infrastructure faults.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func errf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// storeErr maps store sentinels onto the taxonomy. ErrStale means the
// entity moved under the caller's feet, so the caller should refresh;
// that is a state error, not a transient one.
func storeErr(op string, err error) *Error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Msg: "not found", Err: err}
	case errors.Is(err, db.ErrDuplicate):
		return &Error{Kind: KindConflict, Op: op, Msg: "already exists", Err: err}
	case errors.Is(err, db.ErrStale):
		return &Error{Kind: KindState, Op: op, Msg: "entity changed, refresh and retry", Err: err}
	default:
		return &Error{Kind: KindTransient, Op: op, Msg: "storage failure", Err: err}
	}
}
