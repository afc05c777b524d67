// Package errkind defines the abstract error kinds shared by every layer
// of the driver core (spec.md §7) so callers can classify failures with
// errors.Is / errors.As instead of string matching.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error categories from spec.md §7.
type Kind string

const (
	Framing       Kind = "framing"
	StreamIO      Kind = "stream_io"
	StreamClosed  Kind = "stream_closed"
	Timeout       Kind = "timeout"
	Security      Kind = "security"
	Handshake     Kind = "handshake"
	PoolTimeout   Kind = "pool_timeout"
	PoolClosed    Kind = "pool_closed"
	CommandFailed Kind = "command_failed"
	WriteErrors   Kind = "write_errors"
	Internal      Kind = "internal"
)

// Error wraps an underlying cause with its abstract Kind. Every package in
// this module returns one of these (or a sentinel satisfying errors.Is
// against one, via Is) rather than a bare fmt.Errorf so the error kind
// survives across package boundaries.
type Error struct {
	Kind Kind
	Op   string // component/operation that produced the error, e.g. "pool.Get"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, letting
// callers write errors.Is(err, errkind.New(errkind.Timeout, "", nil)) or,
// more idiomatically, a package-level sentinel built with New and a nil
// Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// OfKind is a convenience sentinel usable with errors.Is(err,
// errkind.OfKind(errkind.Timeout)) to test only the kind, ignoring Op/Err.
func OfKind(kind Kind) error {
	return &Error{Kind: kind}
}

// OfKindMatches reports whether err matches any of the given kinds.
func OfKindMatches(err error, kinds ...Kind) bool {
	for _, k := range kinds {
		if errors.Is(err, OfKind(k)) {
			return true
		}
	}
	return false
}
