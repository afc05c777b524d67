// Package opctx carries the per-operation state a command dispatch
// needs end to end — the caller's context.Context, the session to
// enrich commands with, a deadline budget, and the negotiated server
// API version — without threading four separate parameters through
// every layer (spec.md §4.1 Design Notes: avoid a second ad hoc state
// machine alongside context.Context; carry one small struct by
// reference instead).
package opctx

import (
	"context"
	"time"

	"github.com/atsika/dbwire/session"
)

// ServerAPI pins the wire protocol's declared API version and its
// strict/deprecation-error flags (spec.md §4.1).
type ServerAPI struct {
	Version           string
	Strict            bool
	DeprecationErrors bool
}

// Context bundles everything a single operation's command dispatch
// needs. It is created once per logical operation and passed by
// reference; nothing in this package mutates the embedded
// context.Context, matching context's own immutability contract.
type Context struct {
	// Request is the caller's context.Context, carrying cancellation
	// and any caller-set deadline.
	Request context.Context

	// Session is the SessionContext this operation enriches commands
	// with. Never nil: callers with no explicit session still get an
	// implicit one (session.Implicit).
	Session session.Context

	// Timeout is the operation-level budget, if any; zero means no
	// operation-level timeout beyond whatever Request already carries.
	Timeout time.Duration

	// API is the negotiated server API version, if the caller pinned
	// one.
	API *ServerAPI
}

// New builds a Context from a caller request context and session,
// applying timeout as an additional deadline on top of whatever
// deadline req already carries. The returned cancel func must be
// called once the operation completes.
func New(req context.Context, sess session.Context, timeout time.Duration) (*Context, context.CancelFunc) {
	cancel := func() {}
	if timeout > 0 {
		req, cancel = context.WithTimeout(req, timeout)
	}
	return &Context{Request: req, Session: sess, Timeout: timeout}, cancel
}

// WithServerAPI returns a shallow copy of c with API set.
func (c *Context) WithServerAPI(api *ServerAPI) *Context {
	cp := *c
	cp.API = api
	return &cp
}

// Deadline reports the effective deadline for this operation, if any.
func (c *Context) Deadline() (time.Time, bool) {
	return c.Request.Deadline()
}

// Done proxies the underlying context.Context's Done channel so callers
// can select on operation cancellation without reaching into Request.
func (c *Context) Done() <-chan struct{} {
	return c.Request.Done()
}

// Err proxies the underlying context.Context's Err.
func (c *Context) Err() error {
	return c.Request.Err()
}
