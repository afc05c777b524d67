package session

import (
	"sync"

	"github.com/atsika/dbwire/address"
)

// TransactionContext is a reference-counted opaque handle plus a pinned
// server address (spec.md §4.6, Design Notes: "replace inheritance-plus-
// ref-count patterns with an explicit small counted handle type"). The
// contents of Value are owned by the caller (typically the transaction
// coordinator); this package only manages the pin and the refcount.
type TransactionContext struct {
	mu     sync.Mutex
	refs   int
	Value  any
	Pinned address.Address
	hasPin bool
}

// NewTransactionContext creates a handle with one reference, pinned to
// addr.
func NewTransactionContext(addr address.Address, value any) *TransactionContext {
	return &TransactionContext{refs: 1, Value: value, Pinned: addr, hasPin: true}
}

// Retain increments the reference count.
func (t *TransactionContext) Retain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs++
}

// Release decrements the reference count and reports whether it reached
// zero (the caller should drop its last reference to Value in that
// case).
func (t *TransactionContext) Release() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs--
	return t.refs <= 0
}

// PinnedServer returns the pinned address, if any.
func (t *TransactionContext) PinnedServer() (address.Address, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Pinned, t.hasPin
}
