// Package stream implements the byte-oriented duplex transport described
// in spec.md §4.2: TCP connect with sequential multi-endpoint fallback,
// TLS bring-up, and deadline-aware read/write that closes the underlying
// socket (rather than merely erroring) when an operation's deadline
// expires, so a blocked syscall is always interrupted and no descriptor
// leaks on a timed-out connect.
package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atsika/dbwire/address"
	"github.com/atsika/dbwire/errkind"
	"github.com/atsika/dbwire/executor"
)

// ErrClosed is returned by any operation on a closed Stream.
var ErrClosed = errkind.OfKind(errkind.StreamClosed)

// Stream is the minimal duplex byte transport every InternalConnection is
// built on. Read/Write are exact-length: Read blocks until len(p) bytes
// have been read (or an error occurs), matching the wire framer's need
// for exact header/body reads.
type Stream interface {
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, bufs [][]byte) (int, error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// TCPStream is the concrete Stream over a real TCP (optionally TLS)
// socket. The zero value is not usable; construct with Open.
type TCPStream struct {
	cfg *Config

	mu     sync.Mutex // guards nc during close-on-timeout races
	nc     net.Conn
	closed atomic.Bool

	handshakeOnce sync.Once
}

var _ Stream = (*TCPStream)(nil)

// Open resolves addr via resolver, dials each candidate endpoint in turn
// until one connects, applies TCP-no-delay/keep-alive/buffer-size
// settings, and — if cfg enables TLS — performs the TLS handshake with
// SNI and (unless invalidHostNameAllowed) hostname verification.
//
// If ctx is canceled or its deadline expires mid-connect, the in-flight
// dial is aborted and no descriptor is leaked: net.Dialer itself honors
// ctx for the connect syscall, and any partially-established socket is
// closed before returning.
func Open(ctx context.Context, addr address.Address, resolver address.Resolver, cfg *Config) (*TCPStream, error) {
	if cfg == nil {
		cfg = defaultConfig()
	}
	if resolver == nil {
		resolver = address.DefaultResolver{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if cfg.connectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, cfg.connectTimeout)
		defer cancel()
	}

	endpoints, err := resolver.Resolve(dialCtx, addr)
	if err != nil {
		return nil, errkind.New(errkind.StreamIO, "stream.Open", err)
	}

	dialer := &net.Dialer{}
	var nc net.Conn
	var lastErr error
	for _, ep := range endpoints {
		c, derr := dialer.DialContext(dialCtx, "tcp", ep.String())
		if derr == nil {
			nc = c
			break
		}
		lastErr = derr
	}
	if nc == nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, errkind.New(errkind.Timeout, "stream.Open", dialCtx.Err())
		}
		return nil, errkind.New(errkind.StreamIO, "stream.Open", lastErr)
	}

	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		if cfg.keepAlive {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(cfg.keepAlivePeriod)
		}
		if cfg.receiveBufferSize > 0 {
			_ = tc.SetReadBuffer(cfg.receiveBufferSize)
		}
		if cfg.sendBufferSize > 0 {
			_ = tc.SetWriteBuffer(cfg.sendBufferSize)
		}
	}

	s := &TCPStream{cfg: cfg, nc: nc}

	if cfg.tlsEnabled {
		if err := s.beginHandshake(dialCtx, addr); err != nil {
			_ = nc.Close()
			return nil, err
		}
	}

	// A timed-out connect must not leak a descriptor; if the dial
	// context expired right as the socket came up, close it now instead
	// of handing a doomed connection back to the caller.
	if dialCtx.Err() != nil {
		_ = s.Close()
		return nil, errkind.New(errkind.Timeout, "stream.Open", dialCtx.Err())
	}

	return s, nil
}

// OpenAsync is the callback-mode counterpart to Open (spec.md §4.2/§5):
// the dial runs on one of exec's worker goroutines and cb is invoked
// exactly once with the result, never on the calling goroutine.
func OpenAsync(ctx context.Context, addr address.Address, resolver address.Resolver, cfg *Config, exec *executor.Executor, cb func(*TCPStream, error)) {
	exec.Submit(func() {
		s, err := Open(ctx, addr, resolver, cfg)
		cb(s, err)
	})
}

// ReadAsync is the callback-mode counterpart to Read.
func (s *TCPStream) ReadAsync(ctx context.Context, p []byte, exec *executor.Executor, cb func(int, error)) {
	exec.Submit(func() {
		n, err := s.Read(ctx, p)
		cb(n, err)
	})
}

// WriteAsync is the callback-mode counterpart to Write.
func (s *TCPStream) WriteAsync(ctx context.Context, bufs [][]byte, exec *executor.Executor, cb func(int, error)) {
	exec.Submit(func() {
		n, err := s.Write(ctx, bufs)
		cb(n, err)
	})
}

// beginHandshake performs the TLS handshake exactly once per stream, per
// spec.md §4.2.
func (s *TCPStream) beginHandshake(ctx context.Context, addr address.Address) error {
	var hsErr error
	s.handshakeOnce.Do(func() {
		cfg := s.cfg.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = addr.Host
		}
		if s.cfg.invalidHostNameAllowed {
			cfg.InsecureSkipVerify = true
		}

		tlsConn := tlsClient(s.nc, cfg)

		done := make(chan error, 1)
		go func() { done <- tlsConn.HandshakeContext(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				hsErr = errkind.New(errkind.Handshake, "stream.beginHandshake", err)
				return
			}
			s.nc = tlsConn
		case <-ctx.Done():
			_ = s.nc.Close()
			hsErr = errkind.New(errkind.Timeout, "stream.beginHandshake", ctx.Err())
		}
	})
	return hsErr
}

// Read blocks until len(p) bytes have been read from the socket or an
// error occurs. On any I/O error or deadline expiry, the stream is
// closed and subsequent calls fail with ErrClosed, per spec.md §4.2.
func (s *TCPStream) Read(ctx context.Context, p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	if err := s.applyDeadline(ctx); err != nil {
		return 0, err
	}
	if s.cfg.readTimeout > 0 {
		dl := time.Now().Add(s.cfg.readTimeout)
		if ctxDl, ok := ctx.Deadline(); !ok || dl.Before(ctxDl) {
			_ = s.nc.SetReadDeadline(dl)
		}
	}

	n, err := readFull(s.nc, p)
	if err != nil {
		return n, s.classifyAndClose("stream.Read", ctx, err)
	}
	return n, nil
}

// Write performs a scatter-gather write of bufs.
func (s *TCPStream) Write(ctx context.Context, bufs [][]byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	if err := s.applyDeadline(ctx); err != nil {
		return 0, err
	}

	total := 0
	for _, b := range bufs {
		n, err := writeFull(s.nc, b)
		total += n
		if err != nil {
			return total, s.classifyAndClose("stream.Write", ctx, err)
		}
	}
	return total, nil
}

// applyDeadline propagates ctx's deadline (if any) onto the underlying
// socket so a blocked syscall returns promptly when it expires.
func (s *TCPStream) applyDeadline(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		if err := s.nc.SetDeadline(dl); err != nil {
			return errkind.New(errkind.StreamIO, "stream.applyDeadline", err)
		}
	} else {
		_ = s.nc.SetDeadline(timeZero)
	}
	return nil
}

// classifyAndClose closes the stream (so a connection-level caller can
// treat it as dead) and returns a typed error: timeout if the deadline
// that fired belongs to ctx or the socket's own deadline, stream_io
// otherwise. A watchdog goroutine is not needed here because
// net.Conn.SetDeadline + the io syscalls already abort the blocked call;
// this is the "close the underlying descriptor if nothing finer is
// available" fallback spec.md §4.2 asks for, applied uniformly.
func (s *TCPStream) classifyAndClose(op string, ctx context.Context, err error) error {
	_ = s.Close()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errkind.New(errkind.Timeout, op, err)
	}
	if ctx.Err() != nil {
		return errkind.New(errkind.Timeout, op, ctx.Err())
	}
	return errkind.New(errkind.StreamIO, op, err)
}

// Close is idempotent.
func (s *TCPStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nc == nil {
		return nil
	}
	return s.nc.Close()
}

func (s *TCPStream) LocalAddr() net.Addr  { return s.nc.LocalAddr() }
func (s *TCPStream) RemoteAddr() net.Addr { return s.nc.RemoteAddr() }

func readFull(r net.Conn, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := r.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeFull(w net.Conn, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := w.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
